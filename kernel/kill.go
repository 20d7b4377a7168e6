package kernel

import (
	"context"

	"github.com/containerd/log"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/events"
	"github.com/mizzen-os/mizzen/process"
)

// sysKill dooms the target process. The victim stops at its next trap
// or wakes out of whatever it is blocked on; its resources come back
// on its own thread's unwind. Killing a zombie succeeds and changes
// nothing, since the first terminal status always stands. Killing
// yourself never returns.
func (k *Kernel) sysKill(ctx context.Context, p *process.Process, tf *abi.TrapFrame) (uint64, error) {
	target := int(int64(tf.Arg(0)))
	victim, ok := k.procs.Get(target)
	if !ok {
		return 0, errNoSuchProcess{pid: target}
	}

	_, won := k.procs.Exit(target, abi.WaitStatus(abi.StatusKilled))
	if won {
		log.G(ctx).WithFields(log.Fields{
			"pid":    target,
			"name":   victim.Name(),
			"killer": p.ID,
		}).Debug("killed")
		terminations.WithValues("kill").Inc()
		k.publish(events.Event{Type: events.TypeKill, PID: target, PPID: victim.Parent(), Status: abi.WaitStatus(abi.StatusKilled)})
	}

	if target == p.ID {
		panic(exitThrow{})
	}
	return 0, nil
}
