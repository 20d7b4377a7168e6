// Package sched runs kernel threads. Every thread is one goroutine; the
// Go runtime multiplexes harts, and the scheduler supplies what the
// syscall layer needs on top: tracked thread goroutines, timed sleeps
// on an injectable clock, indefinite parks, and the yield hint. A
// parked or sleeping thread wakes early only through its doom channel.
package sched

import (
	"runtime"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/mizzen-os/mizzen/process"
)

// Scheduler tracks thread goroutines and owns the kernel clock.
type Scheduler struct {
	clk clock.Clock
	wg  sync.WaitGroup
}

// New returns a scheduler on clk; a nil clk means the wall clock.
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Scheduler{clk: clk}
}

// Go runs a thread body on its own goroutine.
func (s *Scheduler) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Wait blocks until every thread goroutine has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// YieldNow surrenders the hart. Purely cooperative; the runtime may
// resume the caller immediately.
func (s *Scheduler) YieldNow() {
	runtime.Gosched()
}

// Sleep parks p for d. Reports false when the sleep was cut short by
// p's doom.
func (s *Scheduler) Sleep(p *process.Process, d time.Duration) bool {
	t := s.clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return true
	case <-p.Doom():
		return false
	}
}

// Park blocks until p is doomed. The forever sleep.
func (s *Scheduler) Park(p *process.Process) {
	<-p.Doom()
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() clock.Clock {
	return s.clk
}
