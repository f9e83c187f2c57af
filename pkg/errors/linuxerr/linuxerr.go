// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package linuxerr contains syscall error codes exported as an error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors"
	"golang.org/x/sys/unix"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or sycall.Errno. However, since the type are distinct ( these are
// *errors.Error), they are not directly comperable. However, the Errno method
// returns an Errno number such that the error can be compared to unix.Errno
// (e.g. EPERM.Errno() == unix.EPERM is true). Converting unix.Errno to the
// errors should be done via ErrorFromUnix.
var (
	noError *errors.Error = nil
	EPERM                 = errors.New(unix.EPERM, "operation not permitted")
	ENOENT                = errors.New(unix.ENOENT, "no such file or directory")
	ESRCH                 = errors.New(unix.ESRCH, "no such process")
	EINTR                 = errors.New(unix.EINTR, "interrupted system call")
	EIO                   = errors.New(unix.EIO, "I/O error")
	ENXIO                 = errors.New(unix.ENXIO, "no such device or address")
	EBADF                 = errors.New(unix.EBADF, "bad file number")
	EAGAIN                = errors.New(unix.EAGAIN, "try again")
	ENOMEM                = errors.New(unix.ENOMEM, "out of memory")
	EACCES                = errors.New(unix.EACCES, "permission denied")
	EFAULT                = errors.New(unix.EFAULT, "bad address")
	EBUSY                 = errors.New(unix.EBUSY, "device or resource busy")
	ENODEV                = errors.New(unix.ENODEV, "no such device")
	ENOTDIR               = errors.New(unix.ENOTDIR, "not a directory")
	EINVAL                = errors.New(unix.EINVAL, "invalid argument")
	ENFILE                = errors.New(unix.ENFILE, "file table overflow")
	EMFILE                = errors.New(unix.EMFILE, "too many open files")
	ENOTTY                = errors.New(unix.ENOTTY, "not a typewriter")
	ESPIPE                = errors.New(unix.ESPIPE, "illegal seek")
	EPIPE                 = errors.New(unix.EPIPE, "broken pipe")
	ENOSYS                = errors.New(unix.ENOSYS, "invalid system call number")
	ETIMEDOUT             = errors.New(unix.ETIMEDOUT, "connection timed out")

	// ERESTARTSYS is returned by a blocking syscall interrupted by a signal
	// whose handler may restart the call. From include/linux/errno.h.
	ERESTARTSYS = errors.New(unix.Errno(512), "to be restarted if SA_RESTART is set")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
)

var (
	// ErrWouldBlock is an internal error used to indicate that an operation
	// cannot be satisfied immediately, and should be retried at a later
	// time, possibly when the caller has received a notification that the
	// operation may be able to complete. Pipes surface it to callers as
	// EAGAIN, so it is the same value.
	ErrWouldBlock = EWOULDBLOCK

	// ErrInterrupted is returned if a request is interrupted before it can
	// complete.
	ErrInterrupted = errors.New(unix.EINTR, "request was interrupted")
)

var errorMap = map[unix.Errno]*errors.Error{
	unix.EPERM:     EPERM,
	unix.ENOENT:    ENOENT,
	unix.ESRCH:     ESRCH,
	unix.EINTR:     EINTR,
	unix.EIO:       EIO,
	unix.ENXIO:     ENXIO,
	unix.EBADF:     EBADF,
	unix.EAGAIN:    EAGAIN,
	unix.ENOMEM:    ENOMEM,
	unix.EACCES:    EACCES,
	unix.EFAULT:    EFAULT,
	unix.EBUSY:     EBUSY,
	unix.ENODEV:    ENODEV,
	unix.ENOTDIR:   ENOTDIR,
	unix.EINVAL:    EINVAL,
	unix.ENFILE:    ENFILE,
	unix.EMFILE:    EMFILE,
	unix.ENOTTY:    ENOTTY,
	unix.ESPIPE:    ESPIPE,
	unix.EPIPE:     EPIPE,
	unix.ENOSYS:    ENOSYS,
	unix.ETIMEDOUT: ETIMEDOUT,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos without a
// registered sentinel are wrapped in a fresh *errors.Error.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorMap[err]; ok {
		return e
	}
	return errors.New(err, err.Error())
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compars a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	if other, ok := err.(*errors.Error); ok && other != noError && e != noError {
		return other.Errno() == e.Errno()
	}
	return e == err || unixErr == err
}

// TranslateError returns the errno carried by err, if any.
func TranslateError(err error) (unix.Errno, bool) {
	switch e := err.(type) {
	case *errors.Error:
		if e == noError {
			return 0, false
		}
		return e.Errno(), true
	case unix.Errno:
		return e, true
	}
	return 0, false
}
