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

// Package pipe provides a pipe implementation.
package pipe

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/buffer"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/hostarch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/log"
	"github.com/vsrinivas/fuchsia-sub100/pkg/metric"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/vfs"
	"github.com/vsrinivas/fuchsia-sub100/pkg/usermem"
	"github.com/vsrinivas/fuchsia-sub100/pkg/waiter"
)

const (
	// MinimumPipeSize is a hard limit of the minimum size of a pipe.
	// It corresponds to fs/pipe.c:pipe_min_size.
	MinimumPipeSize = hostarch.PageSize

	// MaximumPipeSize is a hard limit on the maximum size of a pipe.
	// It corresponds to fs/pipe.c:pipe_max_size.
	MaximumPipeSize = 1048576

	// DefaultPipeSize is the system-wide default size of a pipe in bytes.
	// It corresponds to pipe_fs_i.h:PIPE_DEF_BUFFERS.
	DefaultPipeSize = 16 * hostarch.PageSize

	// atomicIOBytes is the maximum number of bytes that the pipe will
	// guarantee atomic reads or writes atomically.
	// It corresponds to limits.h:PIPE_BUF.
	atomicIOBytes = linux.PIPE_BUF
)

var (
	pipesCreated     = metric.MustCreateNewUint64Metric("/pipe/created", "Number of pipes created.")
	bytesRead        = metric.MustCreateNewUint64Metric("/pipe/bytes_read", "Bytes read from pipes.")
	bytesWritten     = metric.MustCreateNewUint64Metric("/pipe/bytes_written", "Bytes written to pipes.")
	brokenPipeWrites = metric.MustCreateNewUint64Metric("/pipe/broken_pipe_writes", "Writes to pipes that failed with EPIPE.")
	sigpipeSent      = metric.MustCreateNewUint64Metric("/pipe/sigpipe_sent", "SIGPIPE signals sent to writers of broken pipes.")
	writeSizes       = metric.MustCreateNewDistributionMetric("/pipe/write_size", "Bytes accepted per write to a pipe.", metric.NewExponentialBuckets(1, 4, 11))
)

// brokenPipeLog throttles messages about writes to broken pipes, which a
// misbehaving application can produce in a tight loop.
var brokenPipeLog = log.BasicRateLimitedLogger(time.Minute)

// ByteQueue is the bounded FIFO buffer a Pipe stores data in. It is not
// required to be thread-safe; Pipe serializes access.
type ByteQueue interface {
	// Capacity returns the maximum number of bytes the queue may hold.
	Capacity() int64

	// SetCapacity changes the capacity, failing with EINVAL if more than
	// n bytes are queued.
	SetCapacity(n int64) error

	// IsEmpty returns true if no bytes are queued.
	IsEmpty() bool

	// Available returns the number of bytes that may still be written.
	Available() int64

	// Len returns the number of bytes queued.
	Len() int64

	// Read moves queued bytes to dst.
	Read(ctx context.Context, dst usermem.IOSequence) (int64, error)

	// Write moves bytes from src into the queue. It returns ErrWouldBlock
	// if nothing fits.
	Write(ctx context.Context, src usermem.IOSequence) (int64, error)
}

// Pipe is an encapsulation of a platform-independent pipe.
// It manages a buffered byte queue shared between a reader/writer
// pair.
type Pipe struct {
	// Queue is the waiter queue.
	waiter.Queue

	// mu protects all pipe internal state below.
	mu sync.Mutex

	// queue is the buffer which contains all data to be read.
	queue ByteQueue

	// The number of active readers for this pipe.
	readers int32

	// The number of active writers for this pipe.
	writers int32

	// This flag indicates if this pipe ever had a reader. Note that this does
	// not necessarily indicate there is *currently* a reader, just that there
	// has been a reader at some point since the pipe was created.
	hadReader bool

	// This flag indicates if this pipe ever had a writer. Note that this does
	// not necessarily indicate there is *currently* a writer, just that there
	// has been a writer at some point since the pipe was created.
	hadWriter bool
}

// NewPipe initializes and returns a pipe with the given capacity, clamped to
// [MinimumPipeSize, MaximumPipeSize].
func NewPipe(sizeBytes int64) *Pipe {
	var p Pipe
	initPipe(&p, sizeBytes)
	return &p
}

func initPipe(pipe *Pipe, sizeBytes int64) {
	if sizeBytes < MinimumPipeSize {
		sizeBytes = MinimumPipeSize
	}
	if sizeBytes > MaximumPipeSize {
		sizeBytes = MaximumPipeSize
	}
	pipe.queue = buffer.NewRing(sizeBytes, atomicIOBytes)
	pipesCreated.Increment()
}

// isReadableLocked returns true if a read would not block: data is queued, or
// every writer has come and gone and the read returns EOF.
//
// Precondition: p.mu must be held.
func (p *Pipe) isReadableLocked() bool {
	return !p.queue.IsEmpty() || p.writerGoneLocked()
}

// isWritableLocked returns true if there is room for data and some reader has
// attached. It stays true after the last reader leaves; that case is
// reported as EventErr instead.
//
// Precondition: p.mu must be held.
func (p *Pipe) isWritableLocked() bool {
	return p.queue.Available() > 0 && p.hadReader
}

// Precondition: p.mu must be held.
func (p *Pipe) writerGoneLocked() bool {
	return p.writers == 0 && p.hadWriter
}

// Precondition: p.mu must be held.
func (p *Pipe) readerGoneLocked() bool {
	return p.readers == 0 && p.hadReader
}

// open accounts for a new open of p granting the given capabilities. The
// first reader ever unblocks writers waiting for one; the first writer ever
// wakes readers so they re-check readiness.
func (p *Pipe) open(readable, writable bool) {
	var events waiter.EventMask
	p.mu.Lock()
	if readable {
		if !p.hadReader {
			events |= waiter.EventOut
		}
		p.rOpenLocked()
	}
	if writable {
		if !p.hadWriter {
			events |= waiter.EventIn
		}
		p.wOpenLocked()
	}
	p.mu.Unlock()

	if events != 0 {
		p.Notify(events)
	}
}

// rOpenLocked signals a new reader of the pipe.
//
// Precondition: p.mu must be held.
func (p *Pipe) rOpenLocked() {
	p.readers++
	p.hadReader = true
}

// wOpenLocked signals a new writer of the pipe.
//
// Precondition: p.mu must be held.
func (p *Pipe) wOpenLocked() {
	p.writers++
	p.hadWriter = true
}

// rCloseLocked signals that a reader has closed their end of the pipe.
//
// Precondition: p.mu must be held.
func (p *Pipe) rCloseLocked() {
	p.readers--
	if p.readers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative readers: %v", p.readers))
	}
}

// wCloseLocked signals that a writer has closed their end of the pipe.
//
// Precondition: p.mu must be held.
func (p *Pipe) wCloseLocked() {
	p.writers--
	if p.writers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative writers: %v.", p.writers))
	}
}

// close drops the capabilities of one open of p and wakes waiters for the
// readiness edges this creates.
func (p *Pipe) close(readable, writable bool) {
	var events waiter.EventMask
	p.mu.Lock()
	if readable {
		p.rCloseLocked()
		if p.readers == 0 && p.writers > 0 {
			// Writers must now fail with EPIPE.
			events |= waiter.EventHUp | waiter.EventErr
			if !p.queue.IsEmpty() {
				events |= waiter.EventIn
			}
		}
	}
	if writable {
		p.wCloseLocked()
		if p.writers == 0 && p.readers > 0 {
			// Readers drain what is left, then see EOF.
			events |= waiter.EventIn | waiter.EventHUp
			if p.isWritableLocked() {
				events |= waiter.EventOut
			}
		}
	}
	p.mu.Unlock()

	if events != 0 {
		p.Notify(events)
	}
}

// Read reads from the pipe into dst. It returns ErrWouldBlock if the pipe is
// not readable, and 0 at EOF. It never blocks.
func (p *Pipe) Read(ctx context.Context, dst usermem.IOSequence) (int64, error) {
	// Don't block for a zero-length read even if the pipe is empty.
	if dst.NumBytes() == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isReadableLocked() {
		return 0, linuxerr.ErrWouldBlock
	}
	n, err := p.queue.Read(ctx, dst)
	if n > 0 {
		bytesRead.IncrementBy(uint64(n))
	}
	return n, err
}

// Write writes to the pipe from src. It returns the number of bytes accepted,
// which may be fewer than requested if the pipe is nearly full. It never
// blocks.
//
// Before any reader has attached, Write returns ErrWouldBlock rather than
// EPIPE, so that no SIGPIPE is raised for a pipe nobody has opened for reading
// yet. Once every reader has gone, Write returns EPIPE.
func (p *Pipe) Write(ctx context.Context, src usermem.IOSequence) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hadReader {
		return 0, linuxerr.ErrWouldBlock
	}
	if p.readers == 0 {
		brokenPipeWrites.Increment()
		brokenPipeLog.Debugf("Write of %d bytes to a pipe with no readers", src.NumBytes())
		return 0, linuxerr.EPIPE
	}
	n, err := p.queue.Write(ctx, src)
	if n > 0 {
		bytesWritten.IncrementBy(uint64(n))
		writeSizes.AddSample(float64(n))
	}
	return n, err
}

// Readiness returns the ready events in mask for an open of p with the given
// capabilities.
func (p *Pipe) Readiness(mask waiter.EventMask, readable, writable bool) waiter.EventMask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return mask & p.readinessLocked(readable, writable)
}

// Precondition: p.mu must be held.
func (p *Pipe) readinessLocked(readable, writable bool) waiter.EventMask {
	var ready waiter.EventMask
	if readable && p.isReadableLocked() {
		writerGone := p.writerGoneLocked()
		if writerGone {
			// POLLHUP must be suppressed until the pipe has had at least one
			// writer at some point. Otherwise a reader thread may poll and
			// immediately get a POLLHUP before the writer ever opens the pipe.
			ready |= waiter.EventHUp
		}
		if !(writerGone && p.queue.IsEmpty()) {
			ready |= waiter.EventIn
		}
	}
	if writable && p.isWritableLocked() {
		if p.readerGoneLocked() {
			ready |= waiter.EventErr
		}
		ready |= waiter.EventOut
	}
	return ready
}

// Queued returns the number of bytes queued in the pipe.
func (p *Pipe) Queued() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// PipeSize returns the capacity of the pipe, as for fcntl(F_GETPIPE_SZ).
func (p *Pipe) PipeSize() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Capacity()
}

// SetPipeSize resizes the pipe, as for fcntl(F_SETPIPE_SZ). size is rounded
// up to a page multiple of at least MinimumPipeSize; the new capacity is
// returned.
func (p *Pipe) SetPipeSize(size int64) (int64, error) {
	if size < 0 || size > MaximumPipeSize {
		return 0, linuxerr.EINVAL
	}
	if size < MinimumPipeSize {
		size = MinimumPipeSize
	}
	size, ok := hostarch.PageRoundUp(size)
	if !ok {
		return 0, linuxerr.EINVAL
	}

	p.mu.Lock()
	grew := size > p.queue.Capacity()
	if err := p.queue.SetCapacity(size); err != nil {
		p.mu.Unlock()
		return 0, err
	}
	p.mu.Unlock()

	if grew {
		p.Notify(waiter.EventOut)
	}
	return size, nil
}

// Ioctl implements ioctls on the pipe: FIONREAD reports the number of queued
// bytes; anything else falls through to vfs.DefaultIoctl.
func (p *Pipe) Ioctl(ctx context.Context, io usermem.IO, args arch.SyscallArguments) (uintptr, error) {
	switch int64(args[1].Int()) {
	case linux.FIONREAD:
		v := p.Queued()
		if v > math.MaxInt32 {
			v = math.MaxInt32 // Silently truncate.
		}
		// Copy result to userspace.
		if err := usermem.CopyInt32Out(ctx, io, args[2].Pointer(), int32(v), usermem.IOOpts{}); err != nil {
			return 0, err
		}
		return 0, nil

	default:
		return vfs.DefaultIoctl(ctx, io, args)
	}
}
