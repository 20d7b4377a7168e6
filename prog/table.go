// Package prog registers the user programs a mizzen system can run and
// defines the executable-image format the loader consumes. User code is
// ordinary Go: a program is a function handed the syscall surface of
// the process it runs as.
package prog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	cerrdefs "github.com/containerd/errdefs"

	"github.com/mizzen-os/mizzen/abi"
)

// Process is the system-call surface a program runs against. The typed
// calls stage their arguments in the calling process's own memory
// before trapping; Syscall traps with caller-controlled raw words,
// stray pointers and all.
type Process interface {
	Fork() int64
	Exec(path string, args, env []string) int64
	Wait4(pid int) (int64, abi.WaitStatus)
	Exit(code int)
	Kill(pid int) int64
	Sleep(ticks uint32) int64
	Yield()
	Getpid() int
	Gettid() int
	Getppid() int
	SetPriority(prio uint64) int64
	Syscall(sysno uint64, args ...uint64) int64
	Args() []string
	Environ() []string
	// Peek and Poke access the process's own memory. Program state that
	// must survive fork or be visible to the kernel lives here, not in
	// Go locals; a forked child restarts at the entry point and finds
	// its inheritance in the copied image.
	Peek(addr uint64) (uint64, error)
	Poke(addr, v uint64) error
}

// Func is the body of a user program. The context is cancelled when the
// process is killed; the return value becomes the exit code.
type Func func(ctx context.Context, p Process) int

// Table maps entry names to program bodies.
type Table struct {
	mu    sync.RWMutex
	progs map[string]Func
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{progs: make(map[string]Func)}
}

// Register adds a program under an entry name.
func (t *Table) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("program registration needs a name and a body: %w", cerrdefs.ErrInvalidArgument)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.progs[name]; ok {
		return fmt.Errorf("program %q already registered: %w", name, cerrdefs.ErrConflict)
	}
	t.progs[name] = fn
	return nil
}

// Lookup resolves an entry name.
func (t *Table) Lookup(name string) (Func, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.progs[name]
	if !ok {
		return nil, fmt.Errorf("program %q: %w", name, cerrdefs.ErrNotFound)
	}
	return fn, nil
}

// Names returns the registered entry names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.progs))
	for n := range t.progs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
