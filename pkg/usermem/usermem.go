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

// Package usermem governs access to user memory.
package usermem

import (
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/hostarch"
)

// IO provides access to the contents of a virtual memory space.
type IO interface {
	// CopyOut copies len(src) bytes from src to the memory mapped at addr. It
	// returns the number of bytes copied. If the number of bytes copied is <
	// len(src), it returns a non-nil error explaining why.
	CopyOut(ctx context.Context, addr hostarch.Addr, src []byte, opts IOOpts) (int, error)

	// CopyIn copies len(dst) bytes from the memory mapped at addr to dst.
	// It returns the number of bytes copied. If the number of bytes copied is
	// < len(dst), it returns a non-nil error explaining why.
	CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte, opts IOOpts) (int, error)
}

// IOOpts contains options applicable to all I/O methods.
type IOOpts struct {
	// If IgnorePermissions is true, application-defined memory protections set
	// by mmap(2) or mprotect(2) will be ignored. (Memory protections required
	// by the target of the mapping are never ignored.)
	IgnorePermissions bool
}

// CopyInt32Out copies v to the memory mapped at addr in the byte order of the
// host architecture.
func CopyInt32Out(ctx context.Context, uio IO, addr hostarch.Addr, v int32, opts IOOpts) error {
	var buf [4]byte
	hostarch.ByteOrder.PutUint32(buf[:], uint32(v))
	_, err := uio.CopyOut(ctx, addr, buf[:], opts)
	return err
}

// CopyInt32In reads an int32 from the memory mapped at addr.
func CopyInt32In(ctx context.Context, uio IO, addr hostarch.Addr, opts IOOpts) (int32, error) {
	var buf [4]byte
	if _, err := uio.CopyIn(ctx, addr, buf[:], opts); err != nil {
		return 0, err
	}
	return int32(hostarch.ByteOrder.Uint32(buf[:])), nil
}

// BytesIO implements IO using a byte slice. Addresses are interpreted as
// offsets into the slice. Reads and writes beyond the end of the slice return
// EFAULT.
type BytesIO struct {
	Bytes []byte
}

// CopyOut implements IO.CopyOut.
func (b *BytesIO) CopyOut(ctx context.Context, addr hostarch.Addr, src []byte, opts IOOpts) (int, error) {
	rngN, rngErr := b.rangeCheck(addr, len(src))
	if rngN == 0 {
		return 0, rngErr
	}
	return copy(b.Bytes[int(addr):], src[:rngN]), rngErr
}

// CopyIn implements IO.CopyIn.
func (b *BytesIO) CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte, opts IOOpts) (int, error) {
	rngN, rngErr := b.rangeCheck(addr, len(dst))
	if rngN == 0 {
		return 0, rngErr
	}
	return copy(dst[:rngN], b.Bytes[int(addr):]), rngErr
}

func (b *BytesIO) rangeCheck(addr hostarch.Addr, length int) (int, error) {
	if length == 0 {
		return 0, nil
	}
	if length < 0 {
		return 0, linuxerr.EINVAL
	}
	max := hostarch.Addr(len(b.Bytes))
	if addr >= max {
		return 0, linuxerr.EFAULT
	}
	end, ok := addr.AddLength(uint64(length))
	if !ok || end > max {
		return int(max - addr), linuxerr.EFAULT
	}
	return length, nil
}

// BytesIOSequence returns an IOSequence representing the given byte slice.
func BytesIOSequence(buf []byte) IOSequence {
	return IOSequence{
		IO:    &BytesIO{buf},
		Addrs: hostarch.AddrRange{Start: 0, End: hostarch.Addr(len(buf))},
	}
}

// IOSequence holds arguments to IO methods: an IO and the range of addresses
// within it that a read or write operates on.
type IOSequence struct {
	IO    IO
	Addrs hostarch.AddrRange
	Opts  IOOpts
}

// NumBytes returns s.Addrs.Length().
func (s IOSequence) NumBytes() int64 {
	return int64(s.Addrs.Length())
}

// DropFirst returns a copy of s with the first n bytes removed.
func (s IOSequence) DropFirst(n int) IOSequence {
	return s.DropFirst64(int64(n))
}

// DropFirst64 returns a copy of s with the first n bytes removed. If n is
// larger than s.NumBytes(), the result is empty.
func (s IOSequence) DropFirst64(n int64) IOSequence {
	if n >= s.NumBytes() {
		s.Addrs.Start = s.Addrs.End
	} else {
		s.Addrs.Start += hostarch.Addr(n)
	}
	return s
}

// TakeFirst64 returns a copy of s limited to its first n bytes.
func (s IOSequence) TakeFirst64(n int64) IOSequence {
	if n < s.NumBytes() {
		s.Addrs.End = s.Addrs.Start + hostarch.Addr(n)
	}
	return s
}

// CopyOut invokes s.IO.CopyOut over the start of s.Addrs, copying at most
// s.NumBytes() bytes of src.
func (s IOSequence) CopyOut(ctx context.Context, src []byte) (int, error) {
	if int64(len(src)) > s.NumBytes() {
		src = src[:s.NumBytes()]
	}
	return s.IO.CopyOut(ctx, s.Addrs.Start, src, s.Opts)
}

// CopyIn invokes s.IO.CopyIn over the start of s.Addrs, filling at most
// s.NumBytes() bytes of dst.
func (s IOSequence) CopyIn(ctx context.Context, dst []byte) (int, error) {
	if int64(len(dst)) > s.NumBytes() {
		dst = dst[:s.NumBytes()]
	}
	return s.IO.CopyIn(ctx, s.Addrs.Start, dst, s.Opts)
}
