package kernel

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/events"
	"github.com/mizzen-os/mizzen/process"
)

// sysWait4 blocks until a child of the caller has exited, then reaps
// it: the child's status word lands at the caller's status pointer,
// its record leaves the table, and its pid comes back. Selector -1
// takes any child, a positive pid that exact child; the process-group
// selectors 0 and below -1 are not a thing here and fail fast. A null
// status pointer means the caller does not want the status; a non-null
// one is validated before blocking, so a bad pointer can never strand
// a reaped status.
func (k *Kernel) sysWait4(ctx context.Context, p *process.Process, tf *abi.TrapFrame) (uint64, error) {
	sel := int(int64(tf.Arg(0)))
	statusAddr := tf.Arg(1)

	if statusAddr != 0 {
		if err := p.Space().CheckWritable(statusAddr, 4); err != nil {
			return 0, errors.WithMessage(err, "wait4 status pointer")
		}
	}
	if sel != abi.WaitAny && sel <= 0 {
		return 0, errBadSelector{sel: sel}
	}

	p.State().SetStatus(process.StatusWaiting)
	defer p.State().SetStatus(process.StatusRunning)

	pid, ws, err := k.procs.Wait4(p.ID, sel, p.Doomed)
	if err != nil {
		if errors.Is(err, process.ErrInterrupted) {
			// Killed while blocked; the killer's status stands.
			panic(exitThrow{})
		}
		return 0, err
	}
	if statusAddr != 0 {
		if err := p.Space().WriteWord32(statusAddr, uint32(ws)); err != nil {
			return 0, err
		}
	}

	log.G(ctx).WithFields(log.Fields{
		"pid":    pid,
		"parent": p.ID,
		"status": uint32(ws),
	}).Debug("reaped")
	k.publish(events.Event{Type: events.TypeReap, PID: pid, PPID: p.ID, Status: ws})
	return uint64(pid), nil
}
