package kernel

import (
	"context"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/process"
)

// Identity and scheduling-hint syscalls. Processes here are
// single-threaded, so the thread id is the process id.

func (k *Kernel) sysGetpid(p *process.Process) (uint64, error) {
	return uint64(p.ID), nil
}

func (k *Kernel) sysGettid(p *process.Process) (uint64, error) {
	return uint64(p.ID), nil
}

// sysGetppid returns the pid recorded at registration. There is no
// reparenting: the value stays put even after the parent exits, and
// init reports 0.
func (k *Kernel) sysGetppid(p *process.Process) (uint64, error) {
	return uint64(p.Parent()), nil
}

// sysYield surrenders the hart. Purely a hint.
func (k *Kernel) sysYield(ctx context.Context, p *process.Process) (uint64, error) {
	k.sched.YieldNow()
	return 0, nil
}

// sysSetPriority clamps the requested value to a byte and records it
// against the caller.
func (k *Kernel) sysSetPriority(p *process.Process, tf *abi.TrapFrame) (uint64, error) {
	prio := tf.Arg(0)
	if prio > 255 {
		prio = 255
	}
	k.procs.SetPriority(p.ID, uint8(prio))
	return 0, nil
}
