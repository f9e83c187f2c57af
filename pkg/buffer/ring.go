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

// Package buffer provides the bounded byte ring that backs pipes.
package buffer

import (
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/usermem"
)

// Ring is a bounded FIFO byte queue.
//
// Writes of at most atomicIOBytes are all-or-nothing: they are never split
// and so never interleave with other writers. Larger writes accept whatever
// fits.
//
// Ring is not thread-safe; callers provide synchronization.
type Ring struct {
	// capacity is the maximum number of bytes the ring may hold.
	capacity int64

	// atomicIOBytes is the largest write that is never split.
	atomicIOBytes int64

	// buf holds queued bytes starting at head, wrapping at len(buf.data).
	// It is nil while the ring is empty so idle rings pin no memory.
	buf  *chunk
	head int64
	size int64
}

// NewRing returns an empty Ring.
func NewRing(capacity, atomicIOBytes int64) *Ring {
	return &Ring{
		capacity:      capacity,
		atomicIOBytes: atomicIOBytes,
	}
}

// Capacity returns the maximum number of bytes the ring may hold.
func (r *Ring) Capacity() int64 {
	return r.capacity
}

// SetCapacity changes the ring's capacity. It fails with EINVAL if the ring
// currently holds more than n bytes.
func (r *Ring) SetCapacity(n int64) error {
	if n < r.size {
		return linuxerr.EINVAL
	}
	r.capacity = n
	return nil
}

// IsEmpty returns true if no bytes are queued.
func (r *Ring) IsEmpty() bool {
	return r.size == 0
}

// Len returns the number of bytes queued.
func (r *Ring) Len() int64 {
	return r.size
}

// Available returns the number of bytes that may still be written.
func (r *Ring) Available() int64 {
	return r.capacity - r.size
}

// Read copies queued bytes out to dst, consuming them. It returns the number
// of bytes read, which is 0 if the ring is empty.
func (r *Ring) Read(ctx context.Context, dst usermem.IOSequence) (int64, error) {
	want := dst.NumBytes()
	if want > r.size {
		want = r.size
	}
	var done int64
	for done < want {
		off := r.head % int64(len(r.buf.data))
		seg := r.buf.data[off:]
		if rem := want - done; int64(len(seg)) > rem {
			seg = seg[:rem]
		}
		n, err := dst.DropFirst64(done).CopyOut(ctx, seg)
		done += int64(n)
		r.consume(int64(n))
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

// Write copies bytes in from src. It returns the number of bytes written,
// or ErrWouldBlock if nothing could be written.
func (r *Ring) Write(ctx context.Context, src usermem.IOSequence) (int64, error) {
	want := src.NumBytes()
	if want == 0 {
		return 0, nil
	}
	avail := r.Available()
	if avail <= 0 || (want <= r.atomicIOBytes && want > avail) {
		return 0, linuxerr.ErrWouldBlock
	}
	if want > avail {
		want = avail
	}
	r.ensure(r.size + want)

	var done int64
	for done < want {
		tail := (r.head + r.size) % int64(len(r.buf.data))
		seg := r.buf.data[tail:]
		if int64(len(seg)) > int64(len(r.buf.data))-r.size {
			seg = seg[:int64(len(r.buf.data))-r.size]
		}
		if rem := want - done; int64(len(seg)) > rem {
			seg = seg[:rem]
		}
		n, err := src.DropFirst64(done).CopyIn(ctx, seg)
		done += int64(n)
		r.size += int64(n)
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

// consume drops n bytes from the front of the ring.
func (r *Ring) consume(n int64) {
	r.head += n
	r.size -= n
	if r.size == 0 {
		r.buf.release()
		r.buf = nil
		r.head = 0
		return
	}
	r.head %= int64(len(r.buf.data))
}

// ensure grows storage to hold at least n bytes.
func (r *Ring) ensure(n int64) {
	if r.buf == nil {
		r.buf = newChunk(int(n))
		r.head = 0
		return
	}
	if int64(len(r.buf.data)) < n {
		r.regrow(n)
	}
}

// regrow moves queued bytes to the front of a fresh chunk of at least n
// bytes.
func (r *Ring) regrow(n int64) {
	next := newChunk(int(n))
	first := r.buf.data[r.head:]
	if int64(len(first)) > r.size {
		first = first[:r.size]
	}
	copied := copy(next.data, first)
	copy(next.data[copied:], r.buf.data[:r.size-int64(copied)])
	r.buf.release()
	r.buf = next
	r.head = 0
}
