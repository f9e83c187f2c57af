// Copyright 2018 The gVisor Authors.
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

package vfs

import (
	"sync"
	"sync/atomic"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/refs"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/usermem"
	"github.com/vsrinivas/fuchsia-sub100/pkg/waiter"
)

// A FileDescription represents an open file description, which is the entity
// referred to by a file descriptor (POSIX.1-2017 3.258 "Open File
// Description").
//
// FileDescriptions are reference-counted. Unless otherwise specified, all
// FileDescription methods require that a reference is held.
//
// FileDescription is analogous to Linux's struct file.
type FileDescription struct {
	refs refs.Refs

	// flagsMu serializes updates to statusFlags.
	flagsMu sync.Mutex

	// statusFlags contains status flags, "initialized by open(2) and possibly
	// modified by fcntl()" - fcntl(2). statusFlags can be read using atomic
	// memory operations.
	statusFlags atomic.Uint32

	// mnt and d are the location at which this FileDescription was opened.
	// References are held on both. They are immutable.
	mnt *Mount
	d   *Dentry

	// opts contains options passed to FileDescription.Init(). opts is
	// immutable.
	opts FileDescriptionOptions

	// readable is MayReadFileWithOpenFlags(statusFlags). readable is
	// immutable.
	//
	// readable is analogous to Linux's FMODE_READ.
	readable bool

	// writable is MayWriteFileWithOpenFlags(statusFlags). writable is
	// immutable.
	//
	// writable is analogous to Linux's FMODE_WRITE.
	writable bool

	// impl is the FileDescriptionImpl associated with this Filesystem. impl is
	// immutable. This should be the last field in FileDescription.
	impl FileDescriptionImpl
}

// FileDescriptionOptions contains options to FileDescription.Init().
type FileDescriptionOptions struct {
	// If AllowDirectIO is true, allow O_DIRECT to be set on the file.
	AllowDirectIO bool

	// If DenyPRead is true, calls to FileDescription.PRead() return ESPIPE.
	DenyPRead bool

	// If DenyPWrite is true, calls to FileDescription.PWrite() return
	// ESPIPE.
	DenyPWrite bool
}

// FileCreationFlags are the set of flags passed to FileDescription.Init() but
// omitted from FileDescription.StatusFlags().
const FileCreationFlags = linux.O_CREAT | linux.O_EXCL | linux.O_NOCTTY | linux.O_TRUNC | linux.O_CLOEXEC

// settableFlags are the status flags F_SETFL may change.
const settableFlags = linux.O_APPEND | linux.O_ASYNC | linux.O_DIRECT | linux.O_NOATIME | linux.O_NONBLOCK

// Init must be called before first use of fd. It takes references on mnt and
// d. flags is the initial file description flags, which is usually the full
// set of flags passed to open(2).
func (fd *FileDescription) Init(impl FileDescriptionImpl, flags uint32, mnt *Mount, d *Dentry, opts *FileDescriptionOptions) error {
	if flags&linux.O_DIRECT != 0 && !opts.AllowDirectIO {
		return linuxerr.EINVAL
	}
	fd.refs.InitRefs("vfs.FileDescription")

	// Remove "file creation flags" to mirror the behavior from file.f_flags in
	// fs/open.c:do_dentry_open.
	fd.statusFlags.Store(flags &^ FileCreationFlags)
	fd.mnt = mnt
	fd.d = d
	mnt.IncRef()
	d.IncRef()
	fd.opts = *opts
	fd.readable = MayReadFileWithOpenFlags(flags)
	fd.writable = MayWriteFileWithOpenFlags(flags)
	fd.impl = impl
	return nil
}

// IncRef increments fd's reference count.
func (fd *FileDescription) IncRef() {
	fd.refs.IncRef()
}

// TryIncRef increments fd's reference count unless it has already reached
// zero.
func (fd *FileDescription) TryIncRef() bool {
	return fd.refs.TryIncRef()
}

// ReadRefs returns fd's current reference count.
func (fd *FileDescription) ReadRefs() int64 {
	return fd.refs.ReadRefs()
}

// DecRef decrements fd's reference count. When the last reference is
// dropped, the implementation is released exactly once, followed by the
// references on the dentry and mount.
func (fd *FileDescription) DecRef(ctx context.Context) {
	fd.refs.DecRef(func() {
		fd.impl.Release(ctx)
		fd.d.DecRef(ctx)
		fd.mnt.DecRef(ctx)
	})
}

// Mount returns the mount on which fd was opened. It does not take a reference
// on the returned Mount.
func (fd *FileDescription) Mount() *Mount {
	return fd.mnt
}

// Dentry returns the dentry at which fd was opened. It does not take a
// reference on the returned Dentry.
func (fd *FileDescription) Dentry() *Dentry {
	return fd.d
}

// Options returns the options passed to fd.Init().
func (fd *FileDescription) Options() FileDescriptionOptions {
	return fd.opts
}

// StatusFlags returns file description status flags, as for fcntl(F_GETFL).
func (fd *FileDescription) StatusFlags() uint32 {
	return fd.statusFlags.Load()
}

// SetStatusFlags sets file description status flags, as for fcntl(F_SETFL).
// Only O_APPEND, O_ASYNC, O_DIRECT, O_NOATIME and O_NONBLOCK may change.
func (fd *FileDescription) SetStatusFlags(ctx context.Context, flags uint32) error {
	if flags&linux.O_DIRECT != 0 && !fd.opts.AllowDirectIO {
		return linuxerr.EINVAL
	}
	fd.flagsMu.Lock()
	defer fd.flagsMu.Unlock()
	oldFlags := fd.statusFlags.Load()
	fd.statusFlags.Store((oldFlags &^ settableFlags) | (flags & settableFlags))
	return nil
}

// IsNonblocking returns true if O_NONBLOCK is set.
func (fd *FileDescription) IsNonblocking() bool {
	return fd.StatusFlags()&linux.O_NONBLOCK != 0
}

// IsReadable returns true if fd was opened for reading.
func (fd *FileDescription) IsReadable() bool {
	return fd.readable
}

// IsWritable returns true if fd was opened for writing.
func (fd *FileDescription) IsWritable() bool {
	return fd.writable
}

// Impl returns the FileDescriptionImpl associated with fd.
func (fd *FileDescription) Impl() FileDescriptionImpl {
	return fd.impl
}

// FileDescriptionImpl contains implementation details for an FileDescription.
// Implementations of FileDescriptionImpl should contain their associated
// FileDescription by value as their first field.
//
// All methods may return errors not specified.
//
// FileDescriptionImpl is analogous to Linux's struct file_operations.
type FileDescriptionImpl interface {
	// Release is called when the associated FileDescription reaches zero
	// references.
	Release(ctx context.Context)

	// Stat returns metadata for the file represented by the FileDescription.
	Stat(ctx context.Context, opts StatOptions) (linux.Statx, error)

	// Allocate grows the file to offset + length bytes.
	//
	// Allocate should return EISDIR on directories, ESPIPE on pipes, and ENODEV on
	// other files where it is not supported.
	//
	// Preconditions: The FileDescription was opened for writing.
	Allocate(ctx context.Context, mode, offset, length uint64) error

	// waiter.Waitable methods may be used to poll for I/O events.
	waiter.Waitable

	// WaitAsync arranges for handler to be called once the file is ready for
	// an event in mask. If the file is already ready and opts does not ask
	// for edge-triggered behaviour, handler is called before WaitAsync
	// returns and the returned key is zero. Otherwise the key may be passed
	// to CancelWait.
	WaitAsync(ctx context.Context, mask waiter.EventMask, handler func(waiter.EventMask), opts WaitAsyncOptions) (waiter.WaitKey, error)

	// CancelWait removes a wait registered by WaitAsync. It is safe to call
	// after the handler has fired.
	CancelWait(key waiter.WaitKey) bool

	// PRead reads from the file into dst, starting at the given offset, and
	// returns the number of bytes read. PRead is permitted to return partial
	// reads with a nil error.
	//
	// Preconditions:
	//	* The FileDescription was opened for reading.
	//	* FileDescriptionOptions.DenyPRead == false.
	PRead(ctx context.Context, dst usermem.IOSequence, offset int64, opts ReadOptions) (int64, error)

	// Read is similar to PRead, but does not specify an offset.
	//
	// Preconditions: The FileDescription was opened for reading.
	Read(ctx context.Context, dst usermem.IOSequence, opts ReadOptions) (int64, error)

	// PWrite writes src to the file, starting at the given offset, and returns
	// the number of bytes written. PWrite is permitted to return partial
	// writes with a nil error.
	//
	// Preconditions:
	//	* The FileDescription was opened for writing.
	//	* FileDescriptionOptions.DenyPWrite == false.
	PWrite(ctx context.Context, src usermem.IOSequence, offset int64, opts WriteOptions) (int64, error)

	// Write is similar to PWrite, but does not specify an offset, which is
	// implied as for Read.
	//
	// Preconditions: The FileDescription was opened for writing.
	Write(ctx context.Context, src usermem.IOSequence, opts WriteOptions) (int64, error)

	// Seek changes the FileDescription offset (assuming one exists) and
	// returns its new value.
	Seek(ctx context.Context, offset int64, whence int32) (int64, error)

	// Ioctl implements the ioctl(2) syscall.
	Ioctl(ctx context.Context, uio usermem.IO, args arch.SyscallArguments) (uintptr, error)

	// Fcntl implements the file-specific commands of fcntl(2). fd is the
	// FileDescription this impl belongs to; commands the impl does not
	// recognize should be passed to DefaultFcntl.
	Fcntl(ctx context.Context, fd *FileDescription, cmd int32, arg uint64) (int64, error)
}

// Stat returns metadata for the file represented by fd.
func (fd *FileDescription) Stat(ctx context.Context, opts StatOptions) (linux.Statx, error) {
	return fd.impl.Stat(ctx, opts)
}

// Allocate grows the file represented by FileDescription to offset + length bytes.
func (fd *FileDescription) Allocate(ctx context.Context, mode, offset, length uint64) error {
	if !fd.IsWritable() {
		return linuxerr.EBADF
	}
	return fd.impl.Allocate(ctx, mode, offset, length)
}

// Readiness implements waiter.Waitable.Readiness.
//
// It returns fd's I/O readiness.
func (fd *FileDescription) Readiness(mask waiter.EventMask) waiter.EventMask {
	return fd.impl.Readiness(mask)
}

// EventRegister implements waiter.Waitable.EventRegister.
//
// It registers e for I/O readiness events in mask.
func (fd *FileDescription) EventRegister(e *waiter.Entry) error {
	return fd.impl.EventRegister(e)
}

// EventUnregister implements waiter.Waitable.EventUnregister.
//
// It unregisters e for I/O readiness events.
func (fd *FileDescription) EventUnregister(e *waiter.Entry) {
	fd.impl.EventUnregister(e)
}

// WaitAsync calls fd.impl.WaitAsync.
func (fd *FileDescription) WaitAsync(ctx context.Context, mask waiter.EventMask, handler func(waiter.EventMask), opts WaitAsyncOptions) (waiter.WaitKey, error) {
	return fd.impl.WaitAsync(ctx, mask, handler, opts)
}

// CancelWait calls fd.impl.CancelWait.
func (fd *FileDescription) CancelWait(key waiter.WaitKey) bool {
	return fd.impl.CancelWait(key)
}

// PRead reads from the file represented by fd into dst, starting at the given
// offset, and returns the number of bytes read. PRead is permitted to return
// partial reads with a nil error.
func (fd *FileDescription) PRead(ctx context.Context, dst usermem.IOSequence, offset int64, opts ReadOptions) (int64, error) {
	if fd.opts.DenyPRead {
		return 0, linuxerr.ESPIPE
	}
	if !fd.readable {
		return 0, linuxerr.EBADF
	}
	return fd.impl.PRead(ctx, dst, offset, opts)
}

// Read is similar to PRead, but does not specify an offset.
func (fd *FileDescription) Read(ctx context.Context, dst usermem.IOSequence, opts ReadOptions) (int64, error) {
	if !fd.readable {
		return 0, linuxerr.EBADF
	}
	return fd.impl.Read(ctx, dst, opts)
}

// PWrite writes src to the file represented by fd, starting at the given
// offset, and returns the number of bytes written. PWrite is permitted to
// return partial writes with a nil error.
func (fd *FileDescription) PWrite(ctx context.Context, src usermem.IOSequence, offset int64, opts WriteOptions) (int64, error) {
	if fd.opts.DenyPWrite {
		return 0, linuxerr.ESPIPE
	}
	if !fd.writable {
		return 0, linuxerr.EBADF
	}
	return fd.impl.PWrite(ctx, src, offset, opts)
}

// Write is similar to PWrite, but does not specify an offset.
func (fd *FileDescription) Write(ctx context.Context, src usermem.IOSequence, opts WriteOptions) (int64, error) {
	if !fd.writable {
		return 0, linuxerr.EBADF
	}
	return fd.impl.Write(ctx, src, opts)
}

// Seek changes fd's offset (assuming one exists) and returns its new value.
func (fd *FileDescription) Seek(ctx context.Context, offset int64, whence int32) (int64, error) {
	return fd.impl.Seek(ctx, offset, whence)
}

// Ioctl implements the ioctl(2) syscall.
func (fd *FileDescription) Ioctl(ctx context.Context, uio usermem.IO, args arch.SyscallArguments) (uintptr, error) {
	return fd.impl.Ioctl(ctx, uio, args)
}

// Fcntl implements the file description commands of fcntl(2).
func (fd *FileDescription) Fcntl(ctx context.Context, cmd int32, arg uint64) (int64, error) {
	return fd.impl.Fcntl(ctx, fd, cmd, arg)
}

// DefaultFcntl implements the fcntl(2) commands common to every file:
// F_GETFL and F_SETFL. Pipe size commands fail with EBADF, as in Linux for
// non-pipes, and anything else is EINVAL.
func DefaultFcntl(ctx context.Context, fd *FileDescription, cmd int32, arg uint64) (int64, error) {
	switch cmd {
	case linux.F_GETFL:
		return int64(fd.StatusFlags()), nil
	case linux.F_SETFL:
		return 0, fd.SetStatusFlags(ctx, uint32(arg))
	case linux.F_GETPIPE_SZ, linux.F_SETPIPE_SZ:
		return 0, linuxerr.EBADF
	default:
		return 0, linuxerr.EINVAL
	}
}

// DefaultIoctl implements the ioctl(2) fallback for files that recognize no
// request.
func DefaultIoctl(ctx context.Context, uio usermem.IO, args arch.SyscallArguments) (uintptr, error) {
	return 0, linuxerr.ENOTTY
}
