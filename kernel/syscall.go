package kernel

import (
	"context"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/process"
)

// exitThrow and execThrow unwind a thread out of user code. exit and
// kill-of-self never return; exec returns into a different image. Both
// are caught in invoke, never by user code.
type (
	exitThrow struct{}
	execThrow struct{}
)

// Syscall dispatches one trap for p. The result lands in tf's return
// register: the operation's value on success, the negated errno on
// failure. Exit, self-kill, and a successful exec do not come back.
func (k *Kernel) Syscall(ctx context.Context, p *process.Process, tf *abi.TrapFrame) {
	// A doomed thread executes nothing further on behalf of user
	// code; it unwinds here with the killer's status already set.
	if p.Doomed() {
		panic(exitThrow{})
	}

	sysno := tf.Sysno()
	action := abi.SysName(sysno)
	start := time.Now()
	defer func() {
		syscallActions.WithValues(action).UpdateSince(start)
	}()

	var (
		ret uint64
		err error
	)
	switch sysno {
	case abi.SysExit:
		k.sysExit(ctx, p, tf) // never returns
	case abi.SysFork:
		ret, err = k.sysFork(ctx, p, tf)
	case abi.SysExec:
		ret, err = k.sysExec(ctx, p, tf) // returns only on failure
	case abi.SysWait4:
		ret, err = k.sysWait4(ctx, p, tf)
	case abi.SysKill:
		ret, err = k.sysKill(ctx, p, tf)
	case abi.SysSleep:
		ret, err = k.sysSleep(ctx, p, tf)
	case abi.SysYield:
		ret, err = k.sysYield(ctx, p)
	case abi.SysGetPID:
		ret, err = k.sysGetpid(p)
	case abi.SysGetTID:
		ret, err = k.sysGettid(p)
	case abi.SysGetPPID:
		ret, err = k.sysGetppid(p)
	case abi.SysSetPriority:
		ret, err = k.sysSetPriority(p, tf)
	default:
		err = errors.Wrapf(abi.ENOSYS, "syscall %d", sysno)
	}

	if err != nil {
		errno := abi.FromError(err)
		log.G(ctx).WithFields(log.Fields{
			"pid":     p.ID,
			"syscall": action,
			"errno":   errno.Error(),
		}).WithError(err).Debug("syscall failed")
		syscallFailures.WithValues(action).Inc()
		tf.SetRet(errno.Word())
		return
	}
	tf.SetRet(ret)
}
