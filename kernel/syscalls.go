package kernel

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/process"
	"github.com/mizzen-os/mizzen/prog"
)

// The staging arena is the lower half of the stack mapping. The arg
// block built by the loader sits at the top of the stack; the typed
// call wrappers below stage their outgoing strings, pointer vectors,
// and result slots here, well clear of it.
const (
	stageBase   = uint64(abi.UserStackTop - abi.UserStackSize)
	stageStatus = stageBase      // 8-byte result slot for wait4
	stageData   = stageBase + 16 // strings and vectors grow up from here
	stageLimit  = stageBase + 32*1024
)

// Syscalls is what a program sees as its process: the typed calls
// stage arguments in the process's own memory, build a trap frame, and
// trap into the kernel, the way a libc stub would.
type Syscalls struct {
	k   *Kernel
	p   *process.Process
	ctx context.Context
}

var _ prog.Process = (*Syscalls)(nil)

// trap builds a frame for sysno, enters the kernel, and hands back the
// raw result word as a signed value. Registers the call does not set
// keep their entry-frame values, so a frame captured at fork still
// carries the argc/argv/envp words the loader placed and the child can
// read its arguments back after restarting. Arguments beyond the six
// argument registers are dropped.
func (s *Syscalls) trap(sysno uint64, args ...uint64) int64 {
	tf := s.p.InitTrapFrame()
	tf.Regs[abi.RegRet] = sysno
	for i, a := range args {
		if i > abi.RegArg5-abi.RegArg0 {
			break
		}
		tf.Regs[abi.RegArg0+i] = a
	}
	s.k.Syscall(s.ctx, s.p, &tf)
	return int64(tf.Ret())
}

// Syscall traps with caller-controlled raw words. Nothing is staged;
// pointer arguments mean whatever the caller made them mean.
func (s *Syscalls) Syscall(sysno uint64, args ...uint64) int64 {
	return s.trap(sysno, args...)
}

// Fork clones the calling process. The parent gets the child pid back;
// the child's thread restarts at the image entry with the forked
// memory, where its return register already holds zero.
func (s *Syscalls) Fork() int64 {
	return s.trap(abi.SysFork)
}

// Exec replaces the calling process's image. Returns only on failure.
func (s *Syscalls) Exec(path string, args, env []string) int64 {
	pathAddr, argvAddr, envpAddr, err := s.stageExec(path, args, env)
	if err != nil {
		return -int64(abi.FromError(err))
	}
	return s.trap(abi.SysExec, pathAddr, argvAddr, envpAddr)
}

// Wait4 blocks for a child exit. pid -1 takes any child; a positive
// pid waits for that child alone. On success the reaped pid and its
// status word come back.
func (s *Syscalls) Wait4(pid int) (int64, abi.WaitStatus) {
	ret := s.trap(abi.SysWait4, uint64(int64(pid)), stageStatus)
	if ret < 0 {
		return ret, 0
	}
	w, err := s.p.Space().ReadWord32(stageStatus)
	if err != nil {
		return -int64(abi.FromError(err)), 0
	}
	return ret, abi.WaitStatus(w)
}

// Exit terminates the calling process. Never returns.
func (s *Syscalls) Exit(code int) {
	s.trap(abi.SysExit, uint64(int64(code)))
	panic("exit returned")
}

// Kill dooms pid. Killing yourself never returns.
func (s *Syscalls) Kill(pid int) int64 {
	return s.trap(abi.SysKill, uint64(int64(pid)))
}

// Sleep blocks for ticks timer ticks.
func (s *Syscalls) Sleep(ticks uint32) int64 {
	return s.trap(abi.SysSleep, uint64(ticks))
}

// Yield surrenders the hart.
func (s *Syscalls) Yield() {
	s.trap(abi.SysYield)
}

// Getpid returns the caller's pid.
func (s *Syscalls) Getpid() int {
	return int(s.trap(abi.SysGetPID))
}

// Gettid returns the caller's tid, which equals its pid.
func (s *Syscalls) Gettid() int {
	return int(s.trap(abi.SysGetTID))
}

// Getppid returns the parent's pid, 0 for init.
func (s *Syscalls) Getppid() int {
	return int(s.trap(abi.SysGetPPID))
}

// SetPriority records a scheduling hint for the caller.
func (s *Syscalls) SetPriority(prio uint64) int64 {
	return s.trap(abi.SysSetPriority, prio)
}

// Args returns the argv the current image was entered with, read back
// out of the argument block in process memory.
func (s *Syscalls) Args() []string {
	tf := s.p.InitTrapFrame()
	args, err := s.p.Space().ReadPtrVec(tf.Arg(1))
	if err != nil {
		return nil
	}
	return args
}

// Environ returns the environment of the current image.
func (s *Syscalls) Environ() []string {
	tf := s.p.InitTrapFrame()
	if tf.Arg(2) == 0 {
		return nil
	}
	env, err := s.p.Space().ReadPtrVec(tf.Arg(2))
	if err != nil {
		return nil
	}
	return env
}

// Peek reads a word of process memory.
func (s *Syscalls) Peek(addr uint64) (uint64, error) {
	return s.p.Space().ReadWord(addr)
}

// Poke writes a word of process memory.
func (s *Syscalls) Poke(addr, v uint64) error {
	return s.p.Space().WriteWord(addr, v)
}

// stageExec writes the path, the argument and environment strings, and
// their pointer vectors into the staging arena and returns the
// addresses a trap frame wants. An empty environment stages as a null
// envp.
func (s *Syscalls) stageExec(path string, args, env []string) (pathAddr, argvAddr, envpAddr uint64, err error) {
	space := s.p.Space()
	cur := stageData

	putBytes := func(b []byte) (uint64, error) {
		addr := cur
		if addr+uint64(len(b)) > stageLimit {
			return 0, errors.Wrapf(abi.EINVAL, "staged arguments exceed %d bytes", stageLimit-stageData)
		}
		if err := space.Write(addr, b); err != nil {
			return 0, err
		}
		cur += uint64(len(b))
		return addr, nil
	}
	putStr := func(v string) (uint64, error) {
		return putBytes(append([]byte(v), 0))
	}
	putVec := func(ptrs []uint64) (uint64, error) {
		cur = (cur + 7) &^ 7
		buf := make([]byte, 8*(len(ptrs)+1))
		for i, p := range ptrs {
			binary.LittleEndian.PutUint64(buf[8*i:], p)
		}
		return putBytes(buf)
	}

	if pathAddr, err = putStr(path); err != nil {
		return 0, 0, 0, err
	}
	argPtrs := make([]uint64, len(args))
	for i, a := range args {
		if argPtrs[i], err = putStr(a); err != nil {
			return 0, 0, 0, err
		}
	}
	envPtrs := make([]uint64, len(env))
	for i, e := range env {
		if envPtrs[i], err = putStr(e); err != nil {
			return 0, 0, 0, err
		}
	}
	if argvAddr, err = putVec(argPtrs); err != nil {
		return 0, 0, 0, err
	}
	if len(env) > 0 {
		if envpAddr, err = putVec(envPtrs); err != nil {
			return 0, 0, 0, err
		}
	}
	return pathAddr, argvAddr, envpAddr, nil
}
