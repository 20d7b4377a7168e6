// Package loader turns executable files into runnable process images.
// It reads MZX binaries off the root filesystem, resolves their entry
// in the program table, and lays out the fresh address space a thread
// starts with: text, scratch, and a stack topped by the argument block.
package loader

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"resenje.org/singleflight"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/process"
	"github.com/mizzen-os/mizzen/prog"
	"github.com/mizzen-os/mizzen/vfs"
	"github.com/mizzen-os/mizzen/vm"
)

// stackSlack is left between the argument block and the rest of the
// stack so a program entered with a full block still has headroom.
const stackSlack = 256

// Loader builds process images against one root filesystem, one
// program table, and one page pool.
type Loader struct {
	root  vfs.FileSystem
	progs *prog.Table
	pool  *vm.Pool
	group singleflight.Group[string, []byte]
}

// New returns a loader.
func New(root vfs.FileSystem, progs *prog.Table, pool *vm.Pool) *Loader {
	return &Loader{root: root, progs: progs, pool: pool}
}

// Read resolves path and reads the whole binary. The buffer is fully
// zeroed at allocation and fully written on success; a file that
// shrinks mid-read surfaces as EIO, never as stale bytes. Concurrent
// reads of one path share a single filesystem hit.
func (l *Loader) Read(ctx context.Context, path string) ([]byte, error) {
	img, _, err := l.group.Do(ctx, path, func(ctx context.Context) ([]byte, error) {
		ino, err := l.root.Lookup(path)
		if err != nil {
			return nil, err
		}
		size := ino.Metadata().Size
		buf := make([]byte, size)
		if size == 0 {
			return buf, nil
		}
		n, err := ino.ReadAt(buf, 0)
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		if int64(n) != size {
			return nil, errors.Wrapf(abi.EIO, "short read of %s: %d of %d bytes", path, n, size)
		}
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// NewUser builds a fresh process record for an MZX image: parsed entry,
// mapped segments, the argument block on the stack, and the initial
// trap frame. The record is unregistered and unscheduled; nothing here
// touches the calling process, so every failure leaves the caller
// untouched too.
func (l *Loader) NewUser(name string, img []byte, args, env []string) (*process.Process, error) {
	entry, payload, err := prog.ParseImage(img)
	if err != nil {
		return nil, err
	}
	fn, err := l.progs.Lookup(entry)
	if err != nil {
		return nil, errors.Wrapf(abi.ENOEXEC, "entry %q not in the program table", entry)
	}

	space := vm.NewAddressSpace(l.pool)
	text := payload
	if len(text) == 0 {
		text = make([]byte, 1) // keep the entry point mapped
	}
	if err := space.MapBytes(abi.UserTextBase, text, vm.ProtRead); err != nil {
		space.Release()
		return nil, err
	}
	if err := space.Map(abi.UserScratchBase, abi.UserScratchSize, vm.ProtRead|vm.ProtWrite); err != nil {
		space.Release()
		return nil, err
	}
	sp, argvAddr, envpAddr, err := buildStack(space, args, env)
	if err != nil {
		space.Release()
		return nil, err
	}

	var tf abi.TrapFrame
	tf.Regs[abi.RegPC] = abi.UserTextBase
	tf.Regs[abi.RegSP] = sp
	tf.Regs[abi.RegArg0] = uint64(len(args))
	tf.Regs[abi.RegArg1] = argvAddr
	tf.Regs[abi.RegArg2] = envpAddr

	return process.New(name, entry, fn, space, tf), nil
}

// buildStack maps the stack and writes the argument block at its top:
// string data first, then the envp and argv pointer vectors, then a
// 16-byte-aligned starting sp below them.
func buildStack(space *vm.AddressSpace, args, env []string) (sp, argvAddr, envpAddr uint64, err error) {
	need := 0
	for _, s := range args {
		need += len(s) + 1
	}
	for _, s := range env {
		need += len(s) + 1
	}
	need += 8 * (len(args) + len(env) + 2)
	if need > abi.UserStackSize-stackSlack {
		return 0, 0, 0, errors.Wrapf(abi.EINVAL, "argument block of %d bytes exceeds the stack", need)
	}

	base := uint64(abi.UserStackTop - abi.UserStackSize)
	if err := space.Map(base, abi.UserStackSize, vm.ProtRead|vm.ProtWrite); err != nil {
		return 0, 0, 0, err
	}

	cur := uint64(abi.UserStackTop)
	writeStr := func(s string) (uint64, error) {
		cur -= uint64(len(s) + 1)
		return cur, space.Write(cur, append([]byte(s), 0))
	}
	argPtrs := make([]uint64, len(args))
	for i, s := range args {
		if argPtrs[i], err = writeStr(s); err != nil {
			return 0, 0, 0, err
		}
	}
	envPtrs := make([]uint64, len(env))
	for i, s := range env {
		if envPtrs[i], err = writeStr(s); err != nil {
			return 0, 0, 0, err
		}
	}

	cur &^= 7
	writeVec := func(ptrs []uint64) (uint64, error) {
		cur -= uint64(8 * (len(ptrs) + 1))
		addr := cur
		for i, p := range ptrs {
			if err := space.WriteWord(addr+uint64(8*i), p); err != nil {
				return 0, err
			}
		}
		return addr, space.WriteWord(addr+uint64(8*len(ptrs)), 0)
	}
	if envpAddr, err = writeVec(envPtrs); err != nil {
		return 0, 0, 0, err
	}
	if argvAddr, err = writeVec(argPtrs); err != nil {
		return 0, 0, 0, err
	}
	sp = argvAddr &^ 15
	return sp, argvAddr, envpAddr, nil
}
