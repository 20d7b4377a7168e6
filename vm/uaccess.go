package vm

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
)

// Bounds on user-supplied strings and pointer vectors. Anything larger
// is rejected rather than walked further.
const (
	MaxCStr   = 4096
	MaxVector = 1024
)

// Read copies len(p) bytes of user memory at addr into p. The whole
// range must fall inside one readable segment.
func (as *AddressSpace) Read(p []byte, addr uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	s, err := as.seg(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	if s.prot&ProtRead == 0 {
		return errors.Wrapf(abi.EFAULT, "read of protected address %#x", addr)
	}
	copy(p, s.data[addr-s.start:])
	return nil
}

// Write stores p at addr, honoring write protection.
func (as *AddressSpace) Write(addr uint64, p []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	s, err := as.seg(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	if s.prot&ProtWrite == 0 {
		return errors.Wrapf(abi.EFAULT, "write to protected address %#x", addr)
	}
	copy(s.data[addr-s.start:], p)
	return nil
}

// CheckWritable verifies [addr, addr+size) is mapped writable without
// storing through it. Used to validate out-pointers before a handler
// commits to anything.
func (as *AddressSpace) CheckWritable(addr, size uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	s, err := as.seg(addr, size)
	if err != nil {
		return err
	}
	if s.prot&ProtWrite == 0 {
		return errors.Wrapf(abi.EFAULT, "address %#x not writable", addr)
	}
	return nil
}

// ReadWord loads a 64-bit little-endian word.
func (as *AddressSpace) ReadWord(addr uint64) (uint64, error) {
	var b [8]byte
	if err := as.Read(b[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// WriteWord stores a 64-bit little-endian word.
func (as *AddressSpace) WriteWord(addr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return as.Write(addr, b[:])
}

// ReadWord32 loads a 32-bit little-endian word.
func (as *AddressSpace) ReadWord32(addr uint64) (uint32, error) {
	var b [4]byte
	if err := as.Read(b[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// WriteWord32 stores a 32-bit little-endian word. wait4 delivers status
// words through this.
func (as *AddressSpace) WriteWord32(addr uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return as.Write(addr, b[:])
}

// ReadCString copies in a NUL-terminated string starting at addr.
func (as *AddressSpace) ReadCString(addr uint64) (string, error) {
	var buf []byte
	for i := 0; i < MaxCStr; i++ {
		var b [1]byte
		if err := as.Read(b[:], addr+uint64(i)); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", errors.Wrapf(abi.EINVAL, "unterminated string at %#x", addr)
}

// ReadPtrVec walks a NUL-terminated vector of string pointers (argv,
// envp layout) and copies in every string. The vector may be legally
// empty; a nil pointer for the vector itself is the caller's problem.
func (as *AddressSpace) ReadPtrVec(addr uint64) ([]string, error) {
	out := []string{}
	for i := 0; i < MaxVector; i++ {
		ptr, err := as.ReadWord(addr + uint64(8*i))
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return out, nil
		}
		s, err := as.ReadCString(ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return nil, errors.Wrapf(abi.EINVAL, "pointer vector at %#x too long", addr)
}
