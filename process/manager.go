package process

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
)

// ErrInterrupted reports that a blocked wait was woken by the waiter's
// own termination rather than by a child transition. The caller is on
// its way out; the value never reaches user space.
var ErrInterrupted = errors.WithMessage(abi.EINTR, "wait interrupted by kill")

// Manager owns the process table: pid assignment, the parent/child
// graph, terminal statuses, and the wait machinery. Waiting is one cond
// per parent, broadcast whenever one of its children turns exited or
// the parent itself is doomed while blocked.
type Manager struct {
	mu       sync.Mutex
	procs    map[int]*Process
	children map[int]mapset.Set[int]
	conds    map[int]*sync.Cond
	nextPid  int
	maxProcs int
}

// NewManager returns an empty table. maxProcs bounds live records
// (zombies included); zero means unbounded.
func NewManager(maxProcs int) *Manager {
	return &Manager{
		procs:    make(map[int]*Process),
		children: make(map[int]mapset.Set[int]),
		conds:    make(map[int]*sync.Cond),
		nextPid:  1,
		maxProcs: maxProcs,
	}
}

// Add registers a record under a fresh pid and links it below parent.
// Pids are never reused within a boot. The registration is complete
// before Add returns, so a parent holding the new pid can always name
// it in wait4 or kill.
func (m *Manager) Add(p *Process, parent int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxProcs > 0 && len(m.procs) >= m.maxProcs {
		return 0, errors.Wrapf(abi.EAGAIN, "process table full (max %d)", m.maxProcs)
	}
	pid := m.nextPid
	m.nextPid++
	p.ID = pid
	p.setParent(parent)
	m.procs[pid] = p
	if parent > 0 {
		set, ok := m.children[parent]
		if !ok {
			set = mapset.NewSet[int]()
			m.children[parent] = set
		}
		set.Add(pid)
	}
	return pid, nil
}

// Get resolves a live (possibly zombie) record.
func (m *Manager) Get(pid int) (*Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	return p, ok
}

// Len returns the number of records, zombies included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}

// Pids returns every record's pid, sorted.
func (m *Manager) Pids() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pids := make([]int, 0, len(m.procs))
	for pid := range m.procs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Children returns parent's unreaped children, sorted. The order makes
// reaping deterministic when several children are already exited.
func (m *Manager) Children(parent int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.childrenLocked(parent)
}

func (m *Manager) childrenLocked(parent int) []int {
	set, ok := m.children[parent]
	if !ok {
		return nil
	}
	kids := set.ToSlice()
	sort.Ints(kids)
	return kids
}

func (m *Manager) isChildLocked(parent, pid int) bool {
	set, ok := m.children[parent]
	return ok && set.Contains(pid)
}

func (m *Manager) condLocked(parent int) *sync.Cond {
	c, ok := m.conds[parent]
	if !ok {
		c = sync.NewCond(&m.mu)
		m.conds[parent] = c
	}
	return c
}

// Exit marks pid exited with the given status word and wakes everyone
// with a stake in it: the victim itself (it may be sleeping or blocked
// in wait4) and a parent blocked waiting on it. The first terminal
// transition wins; a later exit or kill of the same pid changes
// nothing. existed reports whether pid named a record at all; won
// reports whether this call made the transition.
func (m *Manager) Exit(pid int, ws abi.WaitStatus) (existed, won bool) {
	m.mu.Lock()
	p, ok := m.procs[pid]
	m.mu.Unlock()
	if !ok {
		return false, false
	}

	won = p.State().SetExited(ws)
	p.Interrupt()

	m.mu.Lock()
	if c, ok := m.conds[p.Parent()]; ok {
		c.Broadcast()
	}
	if c, ok := m.conds[pid]; ok {
		c.Broadcast()
	}
	m.mu.Unlock()
	return true, won
}

// Wait4 blocks until a child matching sel has exited, reaps it, and
// returns its pid and status word. sel is abi.WaitAny or a specific
// pid. ECHILD when nothing can ever match; ErrInterrupted when the
// waiter is doomed while blocked. Each exited child is returned exactly
// once across all callers.
func (m *Manager) Wait4(parent, sel int, doomed func() bool) (int, abi.WaitStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cond := m.condLocked(parent)
	for {
		if doomed() {
			return 0, 0, ErrInterrupted
		}
		if sel == abi.WaitAny {
			kids := m.childrenLocked(parent)
			if len(kids) == 0 {
				return 0, 0, errors.Wrapf(abi.ECHILD, "pid %d has no children", parent)
			}
			for _, kid := range kids {
				if m.procs[kid].State().Exited() {
					pid, ws := m.reapLocked(parent, kid)
					return pid, ws, nil
				}
			}
		} else {
			if !m.isChildLocked(parent, sel) {
				return 0, 0, errors.Wrapf(abi.ECHILD, "pid %d is not an unreaped child of %d", sel, parent)
			}
			if m.procs[sel].State().Exited() {
				pid, ws := m.reapLocked(parent, sel)
				return pid, ws, nil
			}
		}
		cond.Wait()
	}
}

// reapLocked unlinks an exited child and drops its record. The pid is
// unknown to the table afterwards.
func (m *Manager) reapLocked(parent, pid int) (int, abi.WaitStatus) {
	p := m.procs[pid]
	delete(m.procs, pid)
	delete(m.conds, pid)
	// Orphans below pid stay in the table with a dangling ppid; nothing
	// reparents them and nothing will reap them until shutdown.
	delete(m.children, pid)
	if set, ok := m.children[parent]; ok {
		set.Remove(pid)
		if set.Cardinality() == 0 {
			delete(m.children, parent)
		}
	}
	return pid, p.State().ExitStatus()
}

// SetPriority stores a scheduling hint on a live record.
func (m *Manager) SetPriority(pid int, prio uint8) bool {
	p, ok := m.Get(pid)
	if !ok {
		return false
	}
	p.SetPriority(prio)
	return true
}
