package errors

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"net"
	"syscall"
)

// errnoNames maps the OS errors scripts commonly branch on to their
// conventional names.
var errnoNames = map[syscall.Errno]string{
	syscall.ENOENT:       "ENOENT",
	syscall.EEXIST:       "EEXIST",
	syscall.EACCES:       "EACCES",
	syscall.EPERM:        "EPERM",
	syscall.EISDIR:       "EISDIR",
	syscall.ENOTDIR:      "ENOTDIR",
	syscall.ENOTEMPTY:    "ENOTEMPTY",
	syscall.EBADF:        "EBADF",
	syscall.EINVAL:       "EINVAL",
	syscall.EPIPE:        "EPIPE",
	syscall.EAGAIN:       "EAGAIN",
	syscall.EADDRINUSE:   "EADDRINUSE",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ECONNABORTED: "ECONNABORTED",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
}

// CodeOf returns the OS error code name carried by err's cause chain, or ""
// when there is none.
func CodeOf(err error) string {
	var errno syscall.Errno
	if err == nil || !stderrors.As(err, &errno) {
		return ""
	}
	return errnoNames[errno]
}

// ClassOf returns the script-visible class for any error.
func ClassOf(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if stderrors.As(err, &e) && (e.Class != "" || e.Kind != KindOp) {
		return e.ClassName()
	}

	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return ClassConnRefused
		case syscall.ECONNRESET:
			return ClassConnReset
		case syscall.EPIPE:
			return ClassBrokenPipe
		case syscall.EADDRINUSE:
			return ClassAddrInUse
		case syscall.ETIMEDOUT:
			return ClassTimedOut
		}
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return ClassInterrupted
	case stderrors.Is(err, context.DeadlineExceeded):
		return ClassTimedOut
	case stderrors.Is(err, fs.ErrNotExist):
		return ClassNotFound
	case stderrors.Is(err, fs.ErrExist):
		return ClassAlreadyExists
	case stderrors.Is(err, fs.ErrPermission):
		return ClassPermissionDenied
	case stderrors.Is(err, net.ErrClosed), stderrors.Is(err, fs.ErrClosed):
		return ClassBadResource
	case stderrors.Is(err, io.EOF), stderrors.Is(err, io.ErrUnexpectedEOF):
		return ClassUnexpectedEOF
	}

	return ClassError
}

// Classify normalises err into an *Error with Class and Code filled in.
// Errors that already are *Error keep their phase and kind.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if stderrors.As(err, &e) {
		if e.Class != "" && (e.Code != "" || CodeOf(e) == "") {
			return e
		}
		out := *e
		if out.Class == "" {
			out.Class = ClassOf(err)
		}
		if out.Code == "" {
			out.Code = CodeOf(err)
		}
		return &out
	}

	return &Error{
		Phase: PhaseOp,
		Kind:  KindOp,
		Class: ClassOf(err),
		Code:  CodeOf(err),
		Cause: err,
	}
}
