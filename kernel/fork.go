package kernel

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/events"
	"github.com/mizzen-os/mizzen/process"
)

// sysFork clones the calling process: a full copy of its address
// space, a shared-handle copy of its file table, and a trap frame
// identical to the caller's except for a zeroed return register. The
// child is registered and visible before the parent gets its pid back.
func (k *Kernel) sysFork(ctx context.Context, p *process.Process, tf *abi.TrapFrame) (uint64, error) {
	child, err := p.Fork(tf)
	if err != nil {
		// No pid was consumed and no child exists.
		return 0, errors.WithMessage(err, "fork")
	}
	pid, err := k.procs.Add(child, p.ID)
	if err != nil {
		child.Terminate()
		return 0, errors.WithMessage(err, "fork")
	}

	log.G(ctx).WithFields(log.Fields{
		"pid":    pid,
		"parent": p.ID,
		"name":   child.Name(),
	}).Debug("forked")
	k.publish(events.Event{Type: events.TypeFork, PID: pid, PPID: p.ID, Path: child.Name()})
	k.spawn(ctx, child)
	return uint64(pid), nil
}
