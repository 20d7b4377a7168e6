package kernel

import (
	"context"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/process"
)

// sysExit terminates the calling process with the low byte of code as
// its exit status. Open descriptors are closed before the status
// becomes visible, so a parent that reaps us observes the files
// already gone. Never returns.
func (k *Kernel) sysExit(ctx context.Context, p *process.Process, tf *abi.TrapFrame) {
	code := int(int64(tf.Arg(0)))
	p.Files().CloseAll()
	terminations.WithValues("exit").Inc()
	k.exitCommon(ctx, p, abi.ExitStatus(code))
	panic(exitThrow{})
}
