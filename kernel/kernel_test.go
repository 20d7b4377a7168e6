package kernel

import (
	"context"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/events"
	"github.com/mizzen-os/mizzen/process"
	"github.com/mizzen-os/mizzen/prog"
	"github.com/mizzen-os/mizzen/vfs"
)

// Scratch slots the test programs use to carry state across fork. A
// forked child restarts at its entry point and finds whatever the
// parent poked here in its copied memory.
const (
	flagAddr = uint64(abi.UserScratchBase)
	slotAddr = uint64(abi.UserScratchBase + 8)
)

// newTestKernel registers each program under /bin/<name> and builds a
// kernel over an in-memory root.
func newTestKernel(t *testing.T, opts Options, progs map[string]prog.Func) *Kernel {
	t.Helper()
	table := prog.NewTable()
	root := vfs.NewMemFS()
	for name, fn := range progs {
		assert.NilError(t, table.Register(name, fn))
		assert.NilError(t, root.Create("/bin/"+name, prog.BuildImage(name, nil)))
	}
	opts.Root = root
	opts.Programs = table
	k, err := New(opts)
	assert.NilError(t, err)
	return k
}

func bootInit(t *testing.T, k *Kernel, path string) *process.Process {
	t.Helper()
	p, err := k.Boot(context.Background(), path, nil)
	assert.NilError(t, err)
	return p
}

func TestNewRequiresRootAndPrograms(t *testing.T) {
	_, err := New(Options{Programs: prog.NewTable()})
	assert.ErrorContains(t, err, "no root filesystem")
	_, err = New(Options{Root: vfs.NewMemFS()})
	assert.ErrorContains(t, err, "no program table")
}

func TestBootRunsInit(t *testing.T) {
	pids := make(chan int, 1)
	k := newTestKernel(t, Options{}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int {
			pids <- p.Getpid()
			return 42
		},
	})
	init := bootInit(t, k, "/bin/init")
	k.Wait()

	assert.Check(t, is.Equal(<-pids, init.ID))
	assert.Check(t, init.State().Exited())
	assert.Check(t, is.Equal(init.State().ExitStatus(), abi.ExitStatus(42)))
	assert.Check(t, is.Equal(init.Name(), "/bin/init"))
	assert.Check(t, is.Equal(init.Parent(), 0))
}

func TestBootMissingInit(t *testing.T) {
	k := newTestKernel(t, Options{}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int { return 0 },
	})
	_, err := k.Boot(context.Background(), "/bin/ghost", nil)
	assert.ErrorContains(t, err, "boot")
	assert.Check(t, is.Equal(k.procs.Len(), 0))
}

func TestLifecycleEvents(t *testing.T) {
	k := newTestKernel(t, Options{}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int {
			if v, _ := p.Peek(flagAddr); v == 1 {
				p.Exit(7)
			}
			p.Poke(flagAddr, 1)
			p.Fork()
			p.Wait4(abi.WaitAny)
			return 0
		},
	})
	init := bootInit(t, k, "/bin/init")
	k.Wait()

	backlog, _, cancel := k.Events().Subscribe()
	defer cancel()

	counts := map[events.Type]int{}
	for _, ev := range backlog {
		counts[ev.Type]++
	}
	assert.Check(t, is.Equal(counts[events.TypeBoot], 1))
	assert.Check(t, is.Equal(counts[events.TypeFork], 1))
	assert.Check(t, is.Equal(counts[events.TypeReap], 1))
	assert.Check(t, is.Equal(counts[events.TypeExit], 2))

	// Boot is first and the fork precedes everything the child does.
	// The child's own exit event races the parent's reap, so order is
	// only guaranteed where one thread does both: the parent's exit
	// comes after its reap of the child.
	assert.Check(t, is.Equal(backlog[0].Type, events.TypeBoot))
	assert.Check(t, is.Equal(backlog[1].Type, events.TypeFork))
	reapIdx, parentExitIdx := -1, -1
	for i, ev := range backlog {
		if ev.Type == events.TypeReap {
			reapIdx = i
		}
		if ev.Type == events.TypeExit && ev.PID == init.ID {
			parentExitIdx = i
		}
	}
	assert.Check(t, reapIdx >= 0 && parentExitIdx > reapIdx,
		"parent exit at %d, reap at %d", parentExitIdx, reapIdx)
}

func TestUserFaultKillsProcess(t *testing.T) {
	k := newTestKernel(t, Options{}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int {
			if v, _ := p.Peek(flagAddr); v == 1 {
				panic("user bug")
			}
			p.Poke(flagAddr, 1)
			p.Fork()
			ret, ws := p.Wait4(abi.WaitAny)
			if ret > 0 && ws == abi.WaitStatus(abi.StatusKilled) {
				return 0
			}
			return 1
		},
	})
	init := bootInit(t, k, "/bin/init")
	k.Wait()
	assert.Check(t, is.Equal(init.State().ExitStatus(), abi.ExitStatus(0)),
		"the parent saw the faulting child reaped as killed")
}

func TestSleepBlocksForRequestedTicks(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	woke := make(chan struct{})
	k := newTestKernel(t, Options{Clock: clk}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int {
			p.Sleep(3)
			close(woke)
			return 0
		},
	})
	bootInit(t, k, "/bin/init")

	clk.WaitForWatcherAndIncrement(2 * abi.TickDuration)
	select {
	case <-woke:
		t.Fatal("sleep returned a tick early")
	case <-time.After(20 * time.Millisecond):
	}

	clk.Increment(abi.TickDuration)
	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("sleep never returned")
	}
	k.Wait()
}

func TestShutdownHaltsEverything(t *testing.T) {
	k := newTestKernel(t, Options{}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int {
			if v, _ := p.Peek(flagAddr); v == 0 {
				p.Poke(flagAddr, 1)
				p.Fork()
			}
			p.Sleep(abi.SleepForever)
			return 0
		},
	})
	bootInit(t, k, "/bin/init")

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		pids := k.procs.Pids()
		if len(pids) != 2 {
			return poll.Continue("waiting for the fork, %d records", len(pids))
		}
		for _, pid := range pids {
			p, ok := k.procs.Get(pid)
			if !ok || p.State().Status() != process.StatusSleeping {
				return poll.Continue("pid %d not parked yet", pid)
			}
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second))

	k.Shutdown(context.Background())
	for _, pid := range k.procs.Pids() {
		p, ok := k.procs.Get(pid)
		assert.Assert(t, ok)
		assert.Check(t, is.Equal(p.State().ExitStatus(), abi.WaitStatus(abi.StatusKilled)), "pid %d", pid)
	}
}
