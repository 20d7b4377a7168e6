// Package userland carries the built-in program set: the init that
// brings the system up and the small demonstration programs it runs.
// Programs are ordinary Go functions; state that must survive a fork
// lives in scratch memory, because a forked child re-enters its program
// from the top with a copy of the parent's memory.
package userland

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/prog"
	"github.com/mizzen-os/mizzen/vfs"
)

// Scratch layout shared by the programs below. Each program starts
// with zeroed scratch unless it was forked, in which case it inherits
// the parent's.
const (
	roleSlot   = uint64(abi.UserScratchBase)     // which child a fork becomes
	forkedSlot = uint64(abi.UserScratchBase + 8) // set before forking, seen by the child
)

const (
	roleEcho = iota + 1
	roleSleeper
	roleForker
)

// Register adds every built-in program to the table.
func Register(table *prog.Table) error {
	for name, fn := range map[string]prog.Func{
		"init":    initProgram,
		"echo":    echoProgram,
		"sleeper": sleeperProgram,
		"forker":  forkerProgram,
	} {
		if err := table.Register(name, fn); err != nil {
			return errors.WithMessage(err, "userland")
		}
	}
	return nil
}

// Images returns the bootable binary for each built-in program, keyed
// by its canonical path.
func Images() map[string][]byte {
	return map[string][]byte{
		"/bin/init":    prog.BuildImage("init", nil),
		"/bin/echo":    prog.BuildImage("echo", nil),
		"/bin/sleeper": prog.BuildImage("sleeper", nil),
		"/bin/forker":  prog.BuildImage("forker", nil),
	}
}

// Seed writes every built-in binary into an in-memory root.
func Seed(root *vfs.MemFS) error {
	for path, img := range Images() {
		if err := root.Create(path, img); err != nil {
			return errors.WithMessagef(err, "seed %s", path)
		}
	}
	return nil
}

// initProgram is pid 1: it forks one child per demonstration program,
// execs each child into its role, reaps everything, and exits 0 when
// every child came back as a normal exit.
func initProgram(ctx context.Context, p prog.Process) int {
	if role, _ := p.Peek(roleSlot); role != 0 {
		switch role {
		case roleEcho:
			p.Exec("/bin/echo", []string{"/bin/echo", "hello", "mizzen"}, nil)
		case roleSleeper:
			p.Exec("/bin/sleeper", []string{"/bin/sleeper"}, nil)
		case roleForker:
			p.Exec("/bin/forker", []string{"/bin/forker"}, nil)
		}
		p.Exit(101) // the exec failed; report something distinctive
	}

	spawned := 0
	for _, role := range []uint64{roleEcho, roleSleeper, roleForker} {
		p.Poke(roleSlot, role)
		if p.Fork() > 0 {
			spawned++
		}
	}

	failed := 0
	for i := 0; i < spawned; i++ {
		ret, ws := p.Wait4(abi.WaitAny)
		if ret < 0 || !ws.Exited() {
			failed++
		}
	}
	return failed
}

// echoProgram exits with its argument count, the closest thing to
// output this system has.
func echoProgram(ctx context.Context, p prog.Process) int {
	args := p.Args()
	if len(args) == 0 {
		return 0
	}
	return len(args) - 1
}

// sleeperProgram naps a few ticks and leaves.
func sleeperProgram(ctx context.Context, p prog.Process) int {
	p.Sleep(5)
	return 0
}

// forkerProgram forks one child, reaps it, and propagates its exit
// code.
func forkerProgram(ctx context.Context, p prog.Process) int {
	if v, _ := p.Peek(forkedSlot); v == 1 {
		return 0
	}
	p.Poke(forkedSlot, 1)
	child := p.Fork()
	if child < 0 {
		return 1
	}
	ret, ws := p.Wait4(int(child))
	if ret != child || !ws.Exited() {
		return 1
	}
	return ws.ExitCode()
}
