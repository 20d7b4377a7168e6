// Package vm provides the kernel's memory model: a budgeted page pool,
// per-process address spaces built from mapped segments, and checked
// access to user memory. Address spaces are fully isolated; the only
// way data crosses between them is an explicit kernel copy.
package vm

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
)

// PageSize is the allocation granule for mappings.
const PageSize = 4096

// ErrNoMem is returned when a mapping or fork would exceed the pool
// budget.
var ErrNoMem = errors.WithMessage(abi.ENOMEM, "page pool exhausted")

// Pool accounts for the simulated physical pages address spaces draw
// from. A zero budget means unlimited.
type Pool struct {
	mu    sync.Mutex
	total int
	used  int
}

// NewPool returns a pool holding total pages.
func NewPool(total int) *Pool {
	return &Pool{total: total}
}

func (p *Pool) reserve(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total > 0 && p.used+n > p.total {
		return ErrNoMem
	}
	p.used += n
	return nil
}

func (p *Pool) release(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used -= n
	if p.used < 0 {
		panic("vm: page pool released below zero")
	}
}

// Used returns the number of reserved pages.
func (p *Pool) Used() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Total returns the pool budget; zero means unlimited.
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func pages(size uint64) int {
	return int((size + PageSize - 1) / PageSize)
}
