// Package kernel is the syscall layer: it owns the process table, the
// scheduler, the loader, and the event bus, and turns trap frames into
// process-lifecycle transitions. Every process runs as one kernel
// thread; a thread enters its image's program and re-enters the kernel
// only through Syscall.
package kernel

import (
	"context"
	"fmt"
	"path"
	"strings"

	"code.cloudfoundry.org/clock"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/google/uuid"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/events"
	"github.com/mizzen-os/mizzen/loader"
	"github.com/mizzen-os/mizzen/process"
	"github.com/mizzen-os/mizzen/prog"
	"github.com/mizzen-os/mizzen/sched"
	"github.com/mizzen-os/mizzen/vfs"
	"github.com/mizzen-os/mizzen/vm"
)

// Options carries everything a kernel is assembled from. Root and
// Programs are required; the rest default sanely.
type Options struct {
	Root     vfs.FileSystem // where exec finds binaries
	Programs *prog.Table    // registered program bodies
	Pool     *vm.Pool       // nil means no page budget
	MaxProcs int            // 0 means unbounded process table
	Clock    clock.Clock    // nil means the wall clock
	Bus      *events.Bus    // nil means a fresh bus
}

// Kernel is the syscall layer bound to one boot.
type Kernel struct {
	BootID string

	root   vfs.FileSystem
	progs  *prog.Table
	pool   *vm.Pool
	procs  *process.Manager
	sched  *sched.Scheduler
	loader *loader.Loader
	bus    *events.Bus
	clk    clock.Clock
}

// New assembles a kernel. Nothing runs until Boot.
func New(opts Options) (*Kernel, error) {
	if opts.Root == nil {
		return nil, fmt.Errorf("kernel: no root filesystem: %w", cerrdefs.ErrInvalidArgument)
	}
	if opts.Programs == nil {
		return nil, fmt.Errorf("kernel: no program table: %w", cerrdefs.ErrInvalidArgument)
	}
	pool := opts.Pool
	if pool == nil {
		pool = vm.NewPool(0)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewClock()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	return &Kernel{
		BootID: uuid.New().String(),
		root:   opts.Root,
		progs:  opts.Programs,
		pool:   pool,
		procs:  process.NewManager(opts.MaxProcs),
		sched:  sched.New(clk),
		loader: loader.New(opts.Root, opts.Programs, pool),
		bus:    bus,
		clk:    clk,
	}, nil
}

// Events returns the kernel's event bus.
func (k *Kernel) Events() *events.Bus { return k.bus }

// Processes returns the live process table.
func (k *Kernel) Processes() *process.Manager { return k.procs }

// Boot loads the init binary, registers it as the first process, and
// schedules its thread. The returned record outlives the thread; wait
// on its state to observe init's exit.
func (k *Kernel) Boot(ctx context.Context, initPath string, initArgs []string) (*process.Process, error) {
	img, err := k.loader.Read(ctx, initPath)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	args := initArgs
	if len(args) == 0 {
		args = []string{initPath}
	}
	p, err := k.loader.NewUser(initPath, img, args, nil)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	if _, err := k.procs.Add(p, 0); err != nil {
		p.Terminate()
		return nil, fmt.Errorf("boot: %w", err)
	}

	log.G(ctx).WithFields(log.Fields{
		"boot-id": k.BootID,
		"pid":     p.ID,
		"path":    initPath,
	}).Info("booting init")
	k.publish(events.Event{Type: events.TypeBoot, PID: p.ID, Path: initPath})
	k.spawn(ctx, p)
	return p, nil
}

// Shutdown dooms every remaining process and waits for their threads
// to unwind. Safe to call more than once.
func (k *Kernel) Shutdown(ctx context.Context) {
	for _, pid := range k.procs.Pids() {
		k.procs.Exit(pid, abi.WaitStatus(abi.StatusKilled))
	}
	k.sched.Wait()
	log.G(ctx).WithField("boot-id", k.BootID).Info("kernel halted")
}

// Wait blocks until every thread has finished, without dooming anyone.
func (k *Kernel) Wait() {
	k.sched.Wait()
}

// spawn installs p's space on its hart slot and starts its kernel
// thread. The thread must not inherit the caller's cancellation: a
// parent's death reaches children only through explicit kills.
func (k *Kernel) spawn(ctx context.Context, p *process.Process) {
	ctx = context.WithoutCancel(ctx)
	p.Space().Activate(p.CPU())
	p.State().SetStatus(process.StatusReady)
	k.sched.Go(func() { k.run(ctx, p) })
}

// invokeResult says how a program invocation ended.
type invokeResult int

const (
	resExit invokeResult = iota // terminal status recorded
	resExec                     // a new image was adopted; re-enter
)

// run is a thread's kernel-side main: enter the image's program, turn
// its return into an exit, and go around again whenever an exec lands
// a new image. Resources the process gave up are released on the way
// out, on this goroutine, never on the killer's.
func (k *Kernel) run(ctx context.Context, p *process.Process) {
	defer p.Terminate()
	for k.invoke(ctx, p) == resExec {
	}
}

// invoke runs the current image's program once. The exit and exec
// paths leave the program through a throw unwound here; anything else
// escaping user code is a fault that kills the process.
func (k *Kernel) invoke(ctx context.Context, p *process.Process) (res invokeResult) {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unwatch := make(chan struct{})
	defer close(unwatch)
	go func() {
		select {
		case <-p.Doom():
			cancel()
		case <-unwatch:
		}
	}()

	defer func() {
		switch r := recover().(type) {
		case nil:
		case exitThrow:
			res = resExit
		case execThrow:
			res = resExec
		default:
			log.G(ctx).WithFields(log.Fields{
				"pid":   p.ID,
				"name":  p.Name(),
				"panic": fmt.Sprintf("%v", r),
			}).Error("user fault")
			terminations.WithValues("fault").Inc()
			k.exitCommon(ctx, p, abi.WaitStatus(abi.StatusKilled))
			res = resExit
		}
	}()

	_, fn := p.Entry()
	p.State().SetStatus(process.StatusRunning)
	code := fn(pctx, &Syscalls{k: k, p: p, ctx: pctx})

	// Falling off the end of the program is exit(code).
	terminations.WithValues("return").Inc()
	k.exitCommon(ctx, p, abi.ExitStatus(code))
	return resExit
}

// exitCommon makes the terminal transition for p and announces it
// exactly once, no matter how many paths race to it.
func (k *Kernel) exitCommon(ctx context.Context, p *process.Process, ws abi.WaitStatus) {
	_, won := k.procs.Exit(p.ID, ws)
	if !won {
		return
	}
	log.G(ctx).WithFields(log.Fields{
		"pid":    p.ID,
		"name":   p.Name(),
		"status": fmt.Sprintf("%#x", uint32(ws)),
	}).Debug("process exited")
	k.publish(events.Event{Type: events.TypeExit, PID: p.ID, PPID: p.Parent(), Status: ws})
}

// publish stamps and emits ev and refreshes the table gauges.
func (k *Kernel) publish(ev events.Event) {
	ev.Time = k.clk.Now()
	k.bus.Publish(ev)
	processRecords.Set(float64(k.procs.Len()))
	pagesInUse.Set(float64(k.pool.Used()))
}

// resolvePath absolutizes target against p's working directory.
func (k *Kernel) resolvePath(p *process.Process, target string) string {
	if strings.HasPrefix(target, "/") {
		return path.Clean(target)
	}
	return path.Join(p.Cwd(), target)
}
