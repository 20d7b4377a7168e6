// Package abi defines the interface the kernel presents to user code:
// syscall numbers, the trap-frame layout, error numbers, and the
// exit-status encoding. Everything here is part of the user-visible
// contract and must stay stable across kernel releases.
package abi

import "time"

// Syscall numbers.
const (
	SysExit        = 1
	SysFork        = 2
	SysExec        = 3
	SysWait4       = 4
	SysYield       = 5
	SysKill        = 6
	SysGetPID      = 7
	SysGetTID      = 8
	SysGetPPID     = 9
	SysSleep       = 10
	SysSetPriority = 11
)

var sysNames = map[uint64]string{
	SysExit:        "exit",
	SysFork:        "fork",
	SysExec:        "exec",
	SysWait4:       "wait4",
	SysYield:       "yield",
	SysKill:        "kill",
	SysGetPID:      "getpid",
	SysGetTID:      "gettid",
	SysGetPPID:     "getppid",
	SysSleep:       "sleep",
	SysSetPriority: "set_priority",
}

// SysName returns the conventional name for a syscall number, for use in
// logs and metric labels. Unrecognized numbers read as "unknown".
func SysName(sysno uint64) string {
	if s, ok := sysNames[sysno]; ok {
		return s
	}
	return "unknown"
}

// WaitAny is the wait4 selector matching any child of the caller.
const WaitAny = -1

// Sleep durations are expressed in legacy 10ms ticks. A tick count at or
// above SleepForever parks the caller until it is killed.
const (
	TickDuration = 10 * time.Millisecond
	SleepForever = 1 << 31
)

// StatusKilled is the status word recorded for a forcibly terminated
// process. It sits above the byte range so it cannot collide with any
// voluntary exit code.
const StatusKilled = 0x100

// WaitStatus is the status word wait4 stores through its wstatus pointer.
type WaitStatus uint32

// ExitStatus builds the status word for a voluntary exit. Only the low
// byte of code survives, as with _exit(2).
func ExitStatus(code int) WaitStatus { return WaitStatus(code & 0xff) }

// Exited reports whether the status records a voluntary exit.
func (s WaitStatus) Exited() bool { return s&StatusKilled == 0 }

// Killed reports whether the status records a forced termination.
func (s WaitStatus) Killed() bool { return s == StatusKilled }

// ExitCode returns the low-byte exit code. Meaningful only when Exited.
func (s WaitStatus) ExitCode() int { return int(s & 0xff) }
