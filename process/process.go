// Package process holds the kernel's process records: the image and
// identity of each live process, its file table, its lifecycle state,
// and the manager that owns pid assignment, the parent/child graph, and
// the wait machinery.
package process

import (
	"sync"
	"sync/atomic"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/prog"
	"github.com/mizzen-os/mizzen/vm"
)

var kstackIDs atomic.Uint64

// KStack is the kernel-stack token bound to a process record. Exec
// replaces every other piece of the image but keeps running on the same
// kernel stack, so the token's identity must survive adoption.
type KStack struct{ id uint64 }

// NewKStack allocates a token with a fresh identity.
func NewKStack() *KStack { return &KStack{id: kstackIDs.Add(1)} }

// ID returns the stack's identity.
func (k *KStack) ID() uint64 { return k.id }

// Process is one process record. The ID is assigned at registration and
// never reused within a boot; the image fields change only under fork
// and exec.
type Process struct {
	ID int

	mu       sync.Mutex
	name     string
	entry    string
	fn       prog.Func
	space    *vm.AddressSpace
	initTF   abi.TrapFrame
	kstack   *KStack
	files    *FileTable
	cwd      string
	parent   int
	priority uint8

	state *State
	cpu   vm.CPU

	doom     chan struct{}
	doomOnce sync.Once
	termOnce sync.Once
}

// New assembles a record around a freshly loaded image. The caller
// registers it with a Manager before scheduling it.
func New(name, entry string, fn prog.Func, space *vm.AddressSpace, tf abi.TrapFrame) *Process {
	return &Process{
		name:   name,
		entry:  entry,
		fn:     fn,
		space:  space,
		initTF: tf,
		kstack: NewKStack(),
		files:  NewFileTable(),
		cwd:    "/",
		state:  NewState(),
		doom:   make(chan struct{}),
	}
}

// Name returns the process name, the path of the last exec.
func (p *Process) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Entry returns the image's entry name and body.
func (p *Process) Entry() (string, prog.Func) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entry, p.fn
}

// Space returns the current address space.
func (p *Process) Space() *vm.AddressSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.space
}

// InitTrapFrame returns a copy of the image's initial trap frame.
func (p *Process) InitTrapFrame() abi.TrapFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initTF
}

// KStack returns the kernel-stack token.
func (p *Process) KStack() *KStack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kstack
}

// Files returns the file table.
func (p *Process) Files() *FileTable {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.files
}

// Cwd returns the working directory.
func (p *Process) Cwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// Parent returns the ppid recorded at registration. There is no
// reparenting; the value stays meaningful even after the parent exits.
func (p *Process) Parent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

func (p *Process) setParent(pid int) {
	p.mu.Lock()
	p.parent = pid
	p.mu.Unlock()
}

// Priority returns the scheduling hint.
func (p *Process) Priority() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

// SetPriority stores the scheduling hint.
func (p *Process) SetPriority(prio uint8) {
	p.mu.Lock()
	p.priority = prio
	p.mu.Unlock()
}

// State returns the lifecycle state.
func (p *Process) State() *State { return p.state }

// CPU returns the hart slot this process's thread occupies.
func (p *Process) CPU() *vm.CPU { return &p.cpu }

// Fork duplicates the record for a new child: an eager copy of the
// address space, the caller's trap frame with the child's return word
// zeroed, a handle-sharing copy of the file table, and the same working
// directory and priority. The child gets its own kernel stack and doom
// channel; it is not yet registered and owns no pid.
func (p *Process) Fork(tf *abi.TrapFrame) (*Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	space, err := p.space.Fork()
	if err != nil {
		return nil, err
	}
	ctf := tf.Clone()
	ctf.Regs[abi.RegRet] = 0
	return &Process{
		name:     p.name,
		entry:    p.entry,
		fn:       p.fn,
		space:    space,
		initTF:   *ctf,
		kstack:   NewKStack(),
		files:    p.files.Fork(),
		cwd:      p.cwd,
		priority: p.priority,
		state:    NewState(),
		doom:     make(chan struct{}),
	}, nil
}

// AdoptImage commits an exec: the replacement's image fields move into
// this record while the pid, kernel stack, file table, working
// directory, state, and doom channel stay. The displaced address space
// is released. The caller must have activated the replacement space and
// be past every fallible step.
func (p *Process) AdoptImage(repl *Process) {
	p.mu.Lock()
	old := p.space
	p.name = repl.name
	p.entry = repl.entry
	p.fn = repl.fn
	p.space = repl.space
	p.initTF = repl.initTF
	p.mu.Unlock()
	old.Release()
}

// Interrupt dooms the process: the channel close wakes sleepers and
// cancels the program context. Idempotent.
func (p *Process) Interrupt() {
	p.doomOnce.Do(func() { close(p.doom) })
}

// Doomed reports whether the process has been marked for termination.
func (p *Process) Doomed() bool {
	select {
	case <-p.doom:
		return true
	default:
		return false
	}
}

// Doom returns the channel closed when the process is doomed.
func (p *Process) Doom() <-chan struct{} { return p.doom }

// Terminate releases what exit gives back immediately: every open fd
// and the address space. The pid record itself stays visible until the
// parent reaps it. Runs once; always on the owning thread's unwind.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		p.Files().CloseAll()
		p.Space().Release()
	})
}
