package vm

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
)

// Prot is a segment protection mask.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
)

type segment struct {
	start uint64
	prot  Prot
	data  []byte
}

func (s *segment) end() uint64 { return s.start + uint64(len(s.data)) }

// AddressSpace is one process image: a set of disjoint mapped segments
// drawing pages from a shared pool. All methods are safe for concurrent
// use; the kernel copies through these accessors rather than aliasing
// segment memory across spaces.
type AddressSpace struct {
	mu       sync.Mutex
	pool     *Pool
	segs     []*segment // sorted by start
	pages    int
	released bool
}

// NewAddressSpace returns an empty space drawing from pool.
func NewAddressSpace(pool *Pool) *AddressSpace {
	return &AddressSpace{pool: pool}
}

// Map creates a zero-filled segment of size bytes at start. The size is
// rounded up to whole pages.
func (as *AddressSpace) Map(start, size uint64, prot Prot) error {
	return as.MapBytes(start, make([]byte, pages(size)*PageSize), prot)
}

// MapBytes creates a segment at start populated with data, regardless of
// prot. The write protection applies only to user stores after the
// mapping exists.
func (as *AddressSpace) MapBytes(start uint64, data []byte, prot Prot) error {
	if start%PageSize != 0 {
		return errors.Wrapf(abi.EINVAL, "mapping at %#x not page aligned", start)
	}
	n := pages(uint64(len(data)))
	buf := make([]byte, n*PageSize)
	copy(buf, data)

	as.mu.Lock()
	defer as.mu.Unlock()
	seg := &segment{start: start, prot: prot, data: buf}
	for _, s := range as.segs {
		if seg.start < s.end() && s.start < seg.end() {
			return errors.Wrapf(abi.EINVAL, "mapping %#x-%#x overlaps %#x-%#x", seg.start, seg.end(), s.start, s.end())
		}
	}
	if err := as.pool.reserve(n); err != nil {
		return err
	}
	as.pages += n
	as.segs = append(as.segs, seg)
	sort.Slice(as.segs, func(i, j int) bool { return as.segs[i].start < as.segs[j].start })
	return nil
}

// seg returns the segment covering [addr, addr+size).
func (as *AddressSpace) seg(addr, size uint64) (*segment, error) {
	for _, s := range as.segs {
		if addr >= s.start && addr+size <= s.end() {
			return s, nil
		}
	}
	return nil, errors.Wrapf(abi.EFAULT, "unmapped address %#x (+%d)", addr, size)
}

// Fork returns an eager copy of the space, reserving its pages from the
// same pool. On failure the original is untouched.
func (as *AddressSpace) Fork() (*AddressSpace, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if err := as.pool.reserve(as.pages); err != nil {
		return nil, errors.WithMessage(err, "fork address space")
	}
	child := &AddressSpace{pool: as.pool, pages: as.pages}
	child.segs = make([]*segment, len(as.segs))
	for i, s := range as.segs {
		data := make([]byte, len(s.data))
		copy(data, s.data)
		child.segs[i] = &segment{start: s.start, prot: s.prot, data: data}
	}
	return child, nil
}

// Release returns the space's pages to the pool. Idempotent; accessing
// user memory through a released space faults.
func (as *AddressSpace) Release() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.released {
		return
	}
	as.released = true
	as.pool.release(as.pages)
	as.pages = 0
	as.segs = nil
}

// Pages returns the number of pages the space holds.
func (as *AddressSpace) Pages() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pages
}

// CPU models one hardware thread's translation state: the space whose
// mappings are live. A replacement image must be activated before the
// owning thread returns to user code.
type CPU struct {
	mu      sync.Mutex
	current *AddressSpace
}

// Activate installs the space on cpu.
func (as *AddressSpace) Activate(cpu *CPU) {
	cpu.mu.Lock()
	cpu.current = as
	cpu.mu.Unlock()
}

// Current returns the active space.
func (c *CPU) Current() *AddressSpace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
