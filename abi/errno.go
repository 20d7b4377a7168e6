package abi

import (
	"errors"
	"strconv"

	cerrdefs "github.com/containerd/errdefs"
)

// Errno is a kernel error number. A failed syscall returns the negated
// errno in the result word, so a non-negative word always means success.
// Errno implements error so kernel packages can wrap the sentinels below
// with call-site context and have the boundary recover the number.
type Errno int64

const (
	EPERM   Errno = 1
	ENOENT  Errno = 2
	ESRCH   Errno = 3
	EINTR   Errno = 4
	EIO     Errno = 5
	ENOEXEC Errno = 8
	EBADF   Errno = 9
	ECHILD  Errno = 10
	EAGAIN  Errno = 11
	ENOMEM  Errno = 12
	EFAULT  Errno = 14
	EINVAL  Errno = 22
	ENOSYS  Errno = 38
)

var errnoNames = map[Errno]string{
	EPERM:   "operation not permitted",
	ENOENT:  "no such file or directory",
	ESRCH:   "no such process",
	EINTR:   "interrupted system call",
	EIO:     "input/output error",
	ENOEXEC: "exec format error",
	EBADF:   "bad file descriptor",
	ECHILD:  "no child processes",
	EAGAIN:  "resource temporarily unavailable",
	ENOMEM:  "out of memory",
	EFAULT:  "bad address",
	EINVAL:  "invalid argument",
	ENOSYS:  "function not implemented",
}

func (e Errno) Error() string {
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return "errno " + strconv.FormatInt(int64(e), 10)
}

// Word returns the value a failed syscall places in the result word.
func (e Errno) Word() uint64 {
	return uint64(-int64(e))
}

// FromError maps an error to the errno delivered to user space. Errors
// raised by the kernel carry their number, either as a wrapped Errno
// sentinel or through an Errno method; collaborator errors fall back to
// their errdefs class. Anything unclassified surfaces as EIO rather
// than leaking a Go error into the ABI.
func FromError(err error) Errno {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	var carrier interface{ Errno() Errno }
	if errors.As(err, &carrier) {
		return carrier.Errno()
	}
	switch {
	case cerrdefs.IsNotFound(err):
		return ENOENT
	case cerrdefs.IsInvalidArgument(err):
		return EINVAL
	case cerrdefs.IsUnavailable(err):
		return EAGAIN
	case cerrdefs.IsResourceExhausted(err):
		return ENOMEM
	case cerrdefs.IsNotImplemented(err):
		return ENOSYS
	}
	return EIO
}
