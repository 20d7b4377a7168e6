package kernel

import (
	"context"
	"time"

	"github.com/containerd/log"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/process"
)

// sysSleep blocks the caller for the requested number of timer ticks.
// Tick counts with the high bit set mean forever: the process parks
// until something kills it. Any sleep ends early if the process is
// doomed, and a doomed sleeper unwinds instead of returning.
func (k *Kernel) sysSleep(ctx context.Context, p *process.Process, tf *abi.TrapFrame) (uint64, error) {
	ticks := uint32(tf.Arg(0))

	p.State().SetStatus(process.StatusSleeping)
	defer p.State().SetStatus(process.StatusRunning)

	if ticks >= abi.SleepForever {
		log.G(ctx).WithField("pid", p.ID).Debug("sleeping forever")
		k.sched.Park(p)
		panic(exitThrow{})
	}
	if !k.sched.Sleep(p, time.Duration(ticks)*abi.TickDuration) {
		panic(exitThrow{})
	}
	return 0, nil
}
