package kernel

import (
	"fmt"

	"github.com/mizzen-os/mizzen/abi"
)

// errNoSuchProcess is returned when a syscall names a pid with no
// live or zombie record behind it.
type errNoSuchProcess struct {
	pid int
}

func (e errNoSuchProcess) Error() string {
	return fmt.Sprintf("no such process: %d", e.pid)
}

func (e errNoSuchProcess) NotFound() {}

func (e errNoSuchProcess) Errno() abi.Errno { return abi.ESRCH }

// errBadSelector is returned for wait4 selectors the kernel does not
// implement (0 and negative values other than -1 would mean process
// groups, which do not exist here).
type errBadSelector struct {
	sel int
}

func (e errBadSelector) Error() string {
	return fmt.Sprintf("unsupported wait selector: %d", e.sel)
}

func (e errBadSelector) InvalidParameter() {}

func (e errBadSelector) Errno() abi.Errno { return abi.EINVAL }
