package kernel

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/prog"
)

// Waiting for a pid that is not your child fails fast, even while a
// real child is still running.
func TestWaitSpecificNonChild(t *testing.T) {
	rep := make(chan int64, 1)
	k := newTestKernel(t, Options{}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int {
			if v, _ := p.Peek(flagAddr); v == 1 {
				p.Exit(0)
			}
			p.Poke(flagAddr, 1)
			child := p.Fork()
			ret, _ := p.Wait4(99)
			rep <- ret
			p.Wait4(int(child))
			return 0
		},
	})
	bootInit(t, k, "/bin/init")
	k.Wait()
	assert.Check(t, is.Equal(<-rep, -int64(abi.ECHILD)))
}

// A childless waiter gets ECHILD immediately, null status pointer and
// all.
func TestWaitAnyNoChildren(t *testing.T) {
	rep := make(chan [2]int64, 1)
	k := newTestKernel(t, Options{}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int {
			raw := p.Syscall(abi.SysWait4, ^uint64(0), 0)
			typed, _ := p.Wait4(abi.WaitAny)
			rep <- [2]int64{raw, typed}
			return 0
		},
	})
	bootInit(t, k, "/bin/init")
	k.Wait()

	r := <-rep
	assert.Check(t, is.Equal(r[0], -int64(abi.ECHILD)))
	assert.Check(t, is.Equal(r[1], -int64(abi.ECHILD)))
}

// Group selectors are unimplemented and rejected, and the status
// pointer is vetted before anything else can happen.
func TestWaitSelectorValidation(t *testing.T) {
	rep := make(chan map[string]int64, 1)
	k := newTestKernel(t, Options{}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int {
			rep <- map[string]int64{
				"zero":   p.Syscall(abi.SysWait4, 0, 0),
				"group":  p.Syscall(abi.SysWait4, ^uint64(1), 0),
				"badptr": p.Syscall(abi.SysWait4, ^uint64(0), 0xdead0000),
			}
			return 0
		},
	})
	bootInit(t, k, "/bin/init")
	k.Wait()

	m := <-rep
	assert.Check(t, is.Equal(m["zero"], -int64(abi.EINVAL)))
	assert.Check(t, is.Equal(m["group"], -int64(abi.EINVAL)))
	assert.Check(t, is.Equal(m["badptr"], -int64(abi.EFAULT)),
		"a bad pointer outranks ECHILD: it is checked before blocking")
}

// A parent that waits before its child is done blocks until the exit
// arrives.
func TestWaitBlocksUntilChildExits(t *testing.T) {
	type report struct {
		ret int64
		ws  abi.WaitStatus
	}
	rep := make(chan report, 1)
	k := newTestKernel(t, Options{}, map[string]prog.Func{
		"init": func(ctx context.Context, p prog.Process) int {
			if v, _ := p.Peek(flagAddr); v == 1 {
				p.Sleep(2)
				p.Exit(5)
			}
			p.Poke(flagAddr, 1)
			child := p.Fork()
			ret, ws := p.Wait4(int(child))
			rep <- report{ret: ret, ws: ws}
			return 0
		},
	})
	bootInit(t, k, "/bin/init")
	k.Wait()

	r := <-rep
	assert.Check(t, r.ret > 0)
	assert.Check(t, is.Equal(r.ws, abi.ExitStatus(5)))
}
