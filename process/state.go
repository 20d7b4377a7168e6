package process

import (
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-units"

	"github.com/mizzen-os/mizzen/abi"
)

// Status is a process's scheduling state. Only Exited is terminal;
// every other status describes where the owning thread currently is.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusSleeping // parked on a timer or forever
	StatusWaiting  // blocked in wait4
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusSleeping:
		return "sleeping"
	case StatusWaiting:
		return "waiting"
	case StatusExited:
		return "exited"
	}
	return "unknown"
}

// State tracks one process's lifecycle. The exit status is written once
// under the terminal transition and is immutable afterwards; waitStop
// is closed at the same moment so observers can select on it.
type State struct {
	mu         sync.Mutex
	status     Status
	exitStatus abi.WaitStatus
	startedAt  time.Time
	finishedAt time.Time
	waitStop   chan struct{}
}

// NewState returns a State in the ready status.
func NewState() *State {
	return &State{
		status:    StatusReady,
		startedAt: time.Now(),
		waitStop:  make(chan struct{}),
	}
}

// Status returns the current status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus moves between non-terminal statuses. Once the state is
// exited it stays exited; a late transition from a racing handler is
// dropped rather than resurrecting the record.
func (s *State) SetStatus(st Status) {
	if st == StatusExited {
		panic("process: terminal transition must go through SetExited")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusExited {
		return
	}
	s.status = st
}

// SetExited makes the terminal transition and reports whether this call
// won it. Exactly one caller wins; exit racing kill keeps the winner's
// status word.
func (s *State) SetExited(ws abi.WaitStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusExited {
		return false
	}
	s.status = StatusExited
	s.exitStatus = ws
	s.finishedAt = time.Now()
	close(s.waitStop)
	return true
}

// Exited reports whether the terminal transition happened.
func (s *State) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusExited
}

// ExitStatus returns the status word recorded by the terminal
// transition. Meaningful only once Exited reports true.
func (s *State) ExitStatus() abi.WaitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitStatus
}

// Wait returns a channel that closes when the state turns exited.
func (s *State) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitStop
}

// StartedAt returns when the record was created.
func (s *State) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// FinishedAt returns when the terminal transition happened.
func (s *State) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

// String renders the state for humans.
func (s *State) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusExited:
		since := units.HumanDuration(time.Since(s.finishedAt))
		if s.exitStatus.Killed() {
			return fmt.Sprintf("Killed %s ago", since)
		}
		return fmt.Sprintf("Exited (%d) %s ago", s.exitStatus.ExitCode(), since)
	case StatusRunning:
		return fmt.Sprintf("Up %s", units.HumanDuration(time.Since(s.startedAt)))
	case StatusSleeping:
		return "Sleeping"
	case StatusWaiting:
		return "Waiting"
	}
	return "Ready"
}
