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

package pipe

import (
	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/vfs"
	"github.com/vsrinivas/fuchsia-sub100/pkg/usermem"
	"github.com/vsrinivas/fuchsia-sub100/pkg/waiter"
)

// This file contains types enabling the pipe package to be used with the vfs
// package.

// VFSPipe represents the actual pipe, analogous to an inode. VFSPipes should
// not be copied.
type VFSPipe struct {
	// pipe is the underlying pipe.
	pipe Pipe
}

// NewVFSPipe returns an initialized VFSPipe.
func NewVFSPipe(sizeBytes int64) *VFSPipe {
	var vp VFSPipe
	initPipe(&vp.pipe, sizeBytes)
	return &vp
}

// Pipe returns the pipe shared by every FD of vp.
func (vp *VFSPipe) Pipe() *Pipe {
	return &vp.pipe
}

// ReaderWriterPair returns read-only and write-only FDs for vp.
//
// Preconditions: statusFlags should not contain an open access mode.
func (vp *VFSPipe) ReaderWriterPair(ctx context.Context, mnt *vfs.Mount, vfsd *vfs.Dentry, statusFlags uint32) (*vfs.FileDescription, *vfs.FileDescription, error) {
	r, err := vp.Open(ctx, mnt, vfsd, linux.O_RDONLY|statusFlags)
	if err != nil {
		return nil, nil, err
	}
	w, err := vp.Open(ctx, mnt, vfsd, linux.O_WRONLY|statusFlags)
	if err != nil {
		r.DecRef(ctx)
		return nil, nil, err
	}
	return r, w, nil
}

// Open opens the pipe represented by vp. Every open, including re-opens of
// the pipe's node, is accounted for here.
func (vp *VFSPipe) Open(ctx context.Context, mnt *vfs.Mount, vfsd *vfs.Dentry, statusFlags uint32) (*vfs.FileDescription, error) {
	readable := vfs.MayReadFileWithOpenFlags(statusFlags)
	writable := vfs.MayWriteFileWithOpenFlags(statusFlags)
	if !readable && !writable {
		return nil, linuxerr.EINVAL
	}

	fd := &VFSPipeFD{
		pipe: &vp.pipe,
	}
	if err := fd.vfsfd.Init(fd, statusFlags, mnt, vfsd, &vfs.FileDescriptionOptions{
		DenyPRead:  true,
		DenyPWrite: true,
	}); err != nil {
		return nil, err
	}
	vp.pipe.open(readable, writable)
	ctx.Debugf("Opened pipe end (read=%t, write=%t)", readable, writable)
	return &fd.vfsfd, nil
}

// VFSPipeFD implements vfs.FileDescriptionImpl for pipes.
type VFSPipeFD struct {
	vfsfd vfs.FileDescription
	vfs.FileDescriptionDefaultImpl

	pipe *Pipe
}

// Release implements vfs.FileDescriptionImpl.Release.
func (fd *VFSPipeFD) Release(ctx context.Context) {
	readable, writable := fd.vfsfd.IsReadable(), fd.vfsfd.IsWritable()
	if !readable && !writable {
		panic("invalid pipe flags: must be readable, writable, or both")
	}
	fd.pipe.close(readable, writable)
	ctx.Debugf("Closed pipe end (read=%t, write=%t)", readable, writable)
}

// Stat implements vfs.FileDescriptionImpl.Stat. Pipe metadata lives on the
// inode.
func (fd *VFSPipeFD) Stat(ctx context.Context, opts vfs.StatOptions) (linux.Statx, error) {
	return fd.vfsfd.Dentry().Impl().Inode().Stat(ctx, opts)
}

// Readiness implements waiter.Waitable.Readiness.
func (fd *VFSPipeFD) Readiness(mask waiter.EventMask) waiter.EventMask {
	return fd.pipe.Readiness(mask, fd.vfsfd.IsReadable(), fd.vfsfd.IsWritable())
}

// EventRegister implements waiter.Waitable.EventRegister.
func (fd *VFSPipeFD) EventRegister(e *waiter.Entry) error {
	fd.pipe.EventRegister(e)
	return nil
}

// EventUnregister implements waiter.Waitable.EventUnregister.
func (fd *VFSPipeFD) EventUnregister(e *waiter.Entry) {
	fd.pipe.EventUnregister(e)
}

// WaitAsync implements vfs.FileDescriptionImpl.WaitAsync.
//
// If the pipe is already ready for an event in mask and opts does not ask for
// edge-triggered notification, handler is called before WaitAsync returns and
// the returned key is 0. Otherwise handler is called once, the next time an
// event in mask is notified, unless the wait is cancelled first.
func (fd *VFSPipeFD) WaitAsync(ctx context.Context, mask waiter.EventMask, handler func(waiter.EventMask), opts vfs.WaitAsyncOptions) (waiter.WaitKey, error) {
	// Register before checking readiness so that an event in between is not
	// missed.
	key := fd.pipe.WaitAsyncMask(mask, handler)
	if opts.EdgeTriggered {
		return key, nil
	}
	if ready := fd.Readiness(mask); ready != 0 && fd.pipe.CancelWait(key) {
		handler(ready)
		return 0, nil
	}
	return key, nil
}

// CancelWait implements vfs.FileDescriptionImpl.CancelWait.
func (fd *VFSPipeFD) CancelWait(key waiter.WaitKey) bool {
	return fd.pipe.CancelWait(key)
}

// Allocate implements vfs.FileDescriptionImpl.Allocate.
func (fd *VFSPipeFD) Allocate(ctx context.Context, mode, offset, length uint64) error {
	return linuxerr.ESPIPE
}

// PRead implements vfs.FileDescriptionImpl.PRead.
func (fd *VFSPipeFD) PRead(ctx context.Context, dst usermem.IOSequence, offset int64, opts vfs.ReadOptions) (int64, error) {
	return 0, linuxerr.ESPIPE
}

// PWrite implements vfs.FileDescriptionImpl.PWrite.
func (fd *VFSPipeFD) PWrite(ctx context.Context, src usermem.IOSequence, offset int64, opts vfs.WriteOptions) (int64, error) {
	return 0, linuxerr.ESPIPE
}

// Seek implements vfs.FileDescriptionImpl.Seek.
func (fd *VFSPipeFD) Seek(ctx context.Context, offset int64, whence int32) (int64, error) {
	return 0, linuxerr.ESPIPE
}

// Read implements vfs.FileDescriptionImpl.Read. It never blocks; waiting on
// ErrWouldBlock is up to the caller.
func (fd *VFSPipeFD) Read(ctx context.Context, dst usermem.IOSequence, _ vfs.ReadOptions) (int64, error) {
	n, err := fd.pipe.Read(ctx, dst)
	if n > 0 {
		fd.pipe.Notify(waiter.WritableEvents)
	}
	return n, err
}

// Write implements vfs.FileDescriptionImpl.Write.
//
// Write keeps writing until all of src has been accepted, waiting for room
// unless fd is non-blocking. Once any bytes have been written, the count is
// returned in place of a later error, including EPIPE. An EPIPE with nothing
// written raises SIGPIPE in the calling task.
func (fd *VFSPipeFD) Write(ctx context.Context, src usermem.IOSequence, _ vfs.WriteOptions) (int64, error) {
	var written int64
	n, err := vfs.BlockingIO(ctx, fd, waiter.EventOut, fd.vfsfd.IsNonblocking(), func() (vfs.IOResult, error) {
		n, err := fd.pipe.Write(ctx, src.DropFirst64(written))
		if n > 0 {
			written += n
			fd.pipe.Notify(waiter.ReadableEvents)
		}
		switch {
		case err == nil && written == src.NumBytes():
			return vfs.Done(n), nil
		case err == nil:
			// The pipe filled up; wait for room.
			return vfs.Partial(n), linuxerr.ErrWouldBlock
		case err == linuxerr.EPIPE && written > 0:
			return vfs.Done(n), nil
		case err == linuxerr.ErrWouldBlock:
			return vfs.Partial(n), err
		default:
			return vfs.Done(n), err
		}
	})
	if n == 0 && err == linuxerr.EPIPE {
		sendSIGPIPE(ctx)
	}
	return n, err
}

// sendSIGPIPE delivers SIGPIPE to the task writing to a broken pipe.
func sendSIGPIPE(ctx context.Context) {
	t := kernel.TaskFromContext(ctx)
	if t == nil {
		return
	}
	sigpipeSent.Increment()
	if err := t.SendSignal(kernel.SignalInfoPriv(linux.SIGPIPE)); err != nil {
		ctx.Warningf("Failed to send SIGPIPE: %v", err)
	}
}

// Ioctl implements vfs.FileDescriptionImpl.Ioctl.
func (fd *VFSPipeFD) Ioctl(ctx context.Context, uio usermem.IO, args arch.SyscallArguments) (uintptr, error) {
	return fd.pipe.Ioctl(ctx, uio, args)
}

// Fcntl implements vfs.FileDescriptionImpl.Fcntl. It handles the pipe size
// commands and defers the rest to vfs.DefaultFcntl.
func (fd *VFSPipeFD) Fcntl(ctx context.Context, vfsfd *vfs.FileDescription, cmd int32, arg uint64) (int64, error) {
	switch cmd {
	case linux.F_GETPIPE_SZ:
		return fd.pipe.PipeSize(), nil
	case linux.F_SETPIPE_SZ:
		return fd.pipe.SetPipeSize(int64(arg))
	default:
		return vfs.DefaultFcntl(ctx, vfsfd, cmd, arg)
	}
}
