package rfo

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"syscall"
)

// Error is an errno value reported by the peer. Errors travel over the wire
// using the numbering of the host that produced them; like the rest of the
// protocol, this assumes both peers agree on errno values.
//
// The most common codes are re-defined here for convenience.
type Error int32

// Common error codes. Any positive errno may be used as an Error.
const (
	ErrorNotPermitted  = Error(syscall.EPERM)
	ErrorNotExist      = Error(syscall.ENOENT)
	ErrorInterrupted   = Error(syscall.EINTR)
	ErrorIO            = Error(syscall.EIO)
	ErrorBadHandle     = Error(syscall.EBADF)
	ErrorNoMemory      = Error(syscall.ENOMEM)
	ErrorUnauthorized  = Error(syscall.EACCES)
	ErrorExists        = Error(syscall.EEXIST)
	ErrorNotDirectory  = Error(syscall.ENOTDIR)
	ErrorIsDirectory   = Error(syscall.EISDIR)
	ErrorInvalid       = Error(syscall.EINVAL)
	ErrorTooManyFiles  = Error(syscall.EMFILE)
	ErrorLoop          = Error(syscall.ELOOP)
	ErrorUnimplemented = Error(syscall.ENOSYS)
	ErrorAborted       = Error(syscall.ECONNABORTED)
)

// Protocol-level errors.
var (
	// ErrConnectionClosed is returned when the peer closed the stream in the
	// middle of a frame, or when a connection is used after it failed. It is
	// fatal to the connection.
	ErrConnectionClosed = errors.New("rfo: connection closed")

	// ErrMalformedFrame is returned when a frame or payload can't be decoded.
	// It is fatal to the connection.
	ErrMalformedFrame = errors.New("rfo: malformed frame")

	// ErrCorruptTree is returned when a serialized directory tree can't be
	// decoded. It is fatal to the connection.
	ErrCorruptTree = errors.New("rfo: corrupt directory tree")

	// ErrUnknownOpcode is returned for opcodes that aren't supported.
	// Servers recover from it by responding with an ErrorResponse.
	ErrUnknownOpcode = errors.New("rfo: unknown opcode")

	// ErrInvalidHandle is returned for handles which are neither local nor a
	// live remote handle. It is detected without a round trip.
	ErrInvalidHandle = errors.New("rfo: invalid handle")

	// ErrRemoteOperationFailed matches any Error reported by the peer.
	ErrRemoteOperationFailed = errors.New("rfo: remote operation failed")
)

// Error prints the description of the error.
func (e Error) Error() string {
	if e <= 0 {
		return "rfo errno " + strconv.Itoa(int(e))
	}
	return syscall.Errno(e).Error()
}

// Errno returns e as a syscall.Errno.
func (e Error) Errno() syscall.Errno { return syscall.Errno(e) }

// Is allows errors.Is to match e against the equivalent syscall.Errno, the
// fs package sentinels, and ErrRemoteOperationFailed.
func (e Error) Is(target error) bool {
	switch t := target.(type) {
	case syscall.Errno:
		return syscall.Errno(e) == t
	case Error:
		return e == t
	}
	if target == ErrRemoteOperationFailed {
		return true
	}
	return syscall.Errno(e).Is(target)
}

// ErrorFromErr converts err into an Error that can be sent to a peer.
// Returns 0 for a nil error.
func ErrorFromErr(err error) Error {
	if err == nil {
		return 0
	}

	var (
		re    Error
		errno syscall.Errno
	)
	switch {
	case errors.As(err, &re):
		return re
	case errors.As(err, &errno):
		return Error(errno)
	case errors.Is(err, fs.ErrNotExist):
		return ErrorNotExist
	case errors.Is(err, fs.ErrPermission):
		return ErrorUnauthorized
	case errors.Is(err, fs.ErrExist):
		return ErrorExists
	case errors.Is(err, fs.ErrInvalid):
		return ErrorInvalid
	case errors.Is(err, ErrUnknownOpcode):
		return ErrorUnimplemented
	case errors.Is(err, ErrInvalidHandle):
		return ErrorBadHandle
	}
	return ErrorIO
}

// InvalidHandleError is returned when an operation is given a handle which
// is neither local nor a live remote handle.
type InvalidHandleError struct {
	Handle int
}

// Error implements error.
func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("handle %d: %s", e.Handle, syscall.EBADF.Error())
}

// Is matches ErrInvalidHandle and syscall.EBADF, which is what the local
// primitive would have returned for the same handle.
func (e *InvalidHandleError) Is(target error) bool {
	return target == ErrInvalidHandle || target == syscall.EBADF
}
