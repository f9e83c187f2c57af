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

package linux

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/hostarch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel/pipe"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/loader"
)

const (
	memSize = 4 * hostarch.PageSize

	// Scratch addresses in a test task's memory.
	fdsAddr   = 0
	srcAddr   = 0x100
	dstAddr   = 0x800
	intAddr   = 0xf00
	pollAddr  = 0x1000
	badAddr   = memSize
	handlerPC = 0x1000
)

func newTestLoader(t *testing.T) *loader.Loader {
	t.Helper()
	ctx := context.Background()
	l, err := loader.New(ctx, loader.Args{MemorySize: memSize})
	if err != nil {
		t.Fatalf("loader.New: %v", err)
	}
	t.Cleanup(func() { l.Destroy(ctx) })
	return l
}

func newTestTask(t *testing.T) (*loader.Loader, *kernel.Task) {
	t.Helper()
	l := newTestLoader(t)
	task, err := l.NewTask(context.Background())
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	// Cleanups run last-in first-out: tasks exit before the loader is
	// destroyed.
	t.Cleanup(func() { task.Exit(context.Background()) })
	return l, task
}

func newTestThread(t *testing.T, l *loader.Loader, task *kernel.Task) *kernel.Task {
	t.Helper()
	thread, err := l.NewThread(context.Background(), task)
	if err != nil {
		t.Fatalf("NewThread: %v", err)
	}
	t.Cleanup(func() { thread.Exit(context.Background()) })
	return thread
}

func call(task *kernel.Task, fn kernel.SyscallFn, args ...uintptr) (uintptr, error) {
	return fn(task, arch.Args(args...))
}

// makePipe calls pipe2 and returns the read and write ends.
func makePipe(t *testing.T, task *kernel.Task, flags uintptr) (int32, int32) {
	t.Helper()
	if _, err := call(task, Pipe2, fdsAddr, flags); err != nil {
		t.Fatalf("pipe2(%#x): %v", flags, err)
	}
	var buf [8]byte
	if _, err := task.CopyInBytes(fdsAddr, buf[:]); err != nil {
		t.Fatalf("CopyInBytes: %v", err)
	}
	return int32(hostarch.ByteOrder.Uint32(buf[0:])), int32(hostarch.ByteOrder.Uint32(buf[4:]))
}

func writeString(t *testing.T, task *kernel.Task, fd int32, s string) (uintptr, error) {
	t.Helper()
	if _, err := task.CopyOutBytes(srcAddr, []byte(s)); err != nil {
		t.Fatalf("CopyOutBytes: %v", err)
	}
	return call(task, Write, uintptr(fd), srcAddr, uintptr(len(s)))
}

func readString(t *testing.T, task *kernel.Task, fd int32, n int) (string, error) {
	t.Helper()
	got, err := call(task, Read, uintptr(fd), dstAddr, uintptr(n))
	if err != nil {
		return "", err
	}
	buf := make([]byte, got)
	if _, err := task.CopyInBytes(dstAddr, buf); err != nil {
		t.Fatalf("CopyInBytes: %v", err)
	}
	return string(buf), nil
}

func TestPipe2(t *testing.T) {
	_, task := newTestTask(t)

	if _, err := call(task, Pipe2, fdsAddr, linux.O_WRONLY); err != linuxerr.EINVAL {
		t.Errorf("pipe2(O_WRONLY): got %v, wanted EINVAL", err)
	}

	r, w := makePipe(t, task, linux.O_NONBLOCK|linux.O_CLOEXEC)
	if r != 0 || w != 1 {
		t.Errorf("pipe2 fds: got [%d %d], wanted [0 1]", r, w)
	}
	for _, tc := range []struct {
		fd     int32
		cmd    uintptr
		want   uintptr
		wantOp string
	}{
		{r, linux.F_GETFD, linux.FD_CLOEXEC, "F_GETFD(r)"},
		{w, linux.F_GETFD, linux.FD_CLOEXEC, "F_GETFD(w)"},
		{r, linux.F_GETFL, linux.O_RDONLY | linux.O_NONBLOCK, "F_GETFL(r)"},
		{w, linux.F_GETFL, linux.O_WRONLY | linux.O_NONBLOCK, "F_GETFL(w)"},
	} {
		if got, err := call(task, Fcntl, uintptr(tc.fd), tc.cmd); got != tc.want || err != nil {
			t.Errorf("%s: got (%#o, %v), wanted (%#o, nil)", tc.wantOp, got, err, tc.want)
		}
	}

	// Packet mode is accepted and ignored.
	r2, _ := makePipe(t, task, linux.O_DIRECT)
	if got, _ := call(task, Fcntl, uintptr(r2), linux.F_GETFL); got&linux.O_DIRECT != 0 {
		t.Errorf("F_GETFL after pipe2(O_DIRECT): got %#o, wanted O_DIRECT clear", got)
	}
}

func TestPipeFault(t *testing.T) {
	_, task := newTestTask(t)
	if _, err := call(task, Pipe, badAddr); err != linuxerr.EFAULT {
		t.Errorf("pipe(bad address): got %v, wanted EFAULT", err)
	}
	if got := task.FDTable().Size(); got != 0 {
		t.Errorf("descriptors left after failed pipe: got %d, wanted 0", got)
	}
}

func TestReadWrite(t *testing.T) {
	_, task := newTestTask(t)
	r, w := makePipe(t, task, 0)

	if n, err := writeString(t, task, w, "hello"); n != 5 || err != nil {
		t.Fatalf("write: got (%d, %v), wanted (5, nil)", n, err)
	}
	if got, err := readString(t, task, r, 100); got != "hello" || err != nil {
		t.Errorf("read: got (%q, %v), wanted (\"hello\", nil)", got, err)
	}
	if _, err := call(task, Read, uintptr(r), badAddr, 1); err != linuxerr.EFAULT {
		t.Errorf("read to bad address: got %v, wanted EFAULT", err)
	}
	if _, err := call(task, Read, uintptr(w), dstAddr, 1); err != linuxerr.EBADF {
		t.Errorf("read from write end: got %v, wanted EBADF", err)
	}
	if _, err := call(task, Write, 42, srcAddr, 1); err != linuxerr.EBADF {
		t.Errorf("write to unused fd: got %v, wanted EBADF", err)
	}

	if _, err := call(task, Close, uintptr(w)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got, err := readString(t, task, r, 100); got != "" || err != nil {
		t.Errorf("read at EOF: got (%q, %v), wanted (\"\", nil)", got, err)
	}
	if _, err := call(task, Close, uintptr(w)); err != linuxerr.EBADF {
		t.Errorf("second close: got %v, wanted EBADF", err)
	}
}

func TestNonblockingRead(t *testing.T) {
	_, task := newTestTask(t)
	r, _ := makePipe(t, task, linux.O_NONBLOCK)
	if _, err := readString(t, task, r, 1); err != linuxerr.EAGAIN {
		t.Errorf("read from empty pipe: got %v, wanted EAGAIN", err)
	}
}

func TestBlockingReadWakes(t *testing.T) {
	l, task := newTestTask(t)
	reader := newTestThread(t, l, task)
	r, w := makePipe(t, task, 0)

	var g errgroup.Group
	var got string
	g.Go(func() error {
		var err error
		got, err = readString(t, reader, r, 100)
		return err
	})
	time.Sleep(10 * time.Millisecond)
	if _, err := writeString(t, task, w, "wake"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "wake" {
		t.Errorf("read: got %q, wanted \"wake\"", got)
	}
}

func TestReadInterrupted(t *testing.T) {
	l, task := newTestTask(t)
	reader := newTestThread(t, l, task)
	r, _ := makePipe(t, task, 0)
	if _, err := reader.SetSignalAction(linux.SIGUSR1, arch.SignalAct{Handler: handlerPC}); err != nil {
		t.Fatalf("SetSignalAction: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := call(reader, Read, uintptr(r), dstAddr, 1)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := reader.SendSignal(kernel.SignalInfoPriv(linux.SIGUSR1)); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	if err := <-errCh; err != linuxerr.EINTR {
		t.Errorf("interrupted read: got %v, wanted EINTR", err)
	}
}

func TestWriteBrokenPipe(t *testing.T) {
	_, task := newTestTask(t)
	r, w := makePipe(t, task, 0)
	if _, err := call(task, Close, uintptr(r)); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := task.SetSignalAction(linux.SIGPIPE, arch.SignalAct{Handler: arch.SignalActIgnore}); err != nil {
		t.Fatalf("SetSignalAction: %v", err)
	}
	if _, err := writeString(t, task, w, "x"); err != linuxerr.EPIPE {
		t.Errorf("write with SIGPIPE ignored: got %v, wanted EPIPE", err)
	}
	if _, killed := task.Killed(); killed || task.PendingSignals() != 0 {
		t.Errorf("ignored SIGPIPE was delivered")
	}

	if _, err := task.SetSignalAction(linux.SIGPIPE, arch.SignalAct{Handler: arch.SignalActDefault}); err != nil {
		t.Fatalf("SetSignalAction: %v", err)
	}
	if _, err := writeString(t, task, w, "x"); err != linuxerr.EPIPE {
		t.Errorf("write: got %v, wanted EPIPE", err)
	}
	if sig, killed := task.Killed(); !killed || sig != linux.SIGPIPE {
		t.Errorf("Killed: got (%v, %t), wanted (SIGPIPE, true)", sig, killed)
	}
}

func TestDupSharesDescription(t *testing.T) {
	_, task := newTestTask(t)
	if _, err := task.SetSignalAction(linux.SIGPIPE, arch.SignalAct{Handler: arch.SignalActIgnore}); err != nil {
		t.Fatalf("SetSignalAction: %v", err)
	}
	r, w := makePipe(t, task, 0)

	d, err := call(task, Dup, uintptr(r))
	if err != nil || d != 2 {
		t.Fatalf("dup: got (%d, %v), wanted (2, nil)", d, err)
	}
	if _, err := call(task, Dup, 99); err != linuxerr.EBADF {
		t.Errorf("dup(99): got %v, wanted EBADF", err)
	}

	// The description, and so the reader, lives on through the dup.
	call(task, Close, uintptr(r))
	if _, err := writeString(t, task, w, "x"); err != nil {
		t.Errorf("write with dup'd reader open: %v", err)
	}
	call(task, Close, d)
	if _, err := writeString(t, task, w, "x"); err != linuxerr.EPIPE {
		t.Errorf("write after all readers closed: got %v, wanted EPIPE", err)
	}
}

func TestDup3(t *testing.T) {
	_, task := newTestTask(t)
	r, _ := makePipe(t, task, 0)

	if _, err := call(task, Dup3, uintptr(r), uintptr(r), 0); err != linuxerr.EINVAL {
		t.Errorf("dup3(r, r): got %v, wanted EINVAL", err)
	}
	if _, err := call(task, Dup3, uintptr(r), 10, linux.O_NONBLOCK); err != linuxerr.EINVAL {
		t.Errorf("dup3 with O_NONBLOCK: got %v, wanted EINVAL", err)
	}
	if got, err := call(task, Dup3, uintptr(r), 10, linux.O_CLOEXEC); got != 10 || err != nil {
		t.Fatalf("dup3: got (%d, %v), wanted (10, nil)", got, err)
	}
	if got, _ := call(task, Fcntl, 10, linux.F_GETFD); got != linux.FD_CLOEXEC {
		t.Errorf("F_GETFD after dup3(O_CLOEXEC): got %d, wanted FD_CLOEXEC", got)
	}
	if got, err := call(task, Dup2, uintptr(r), uintptr(r)); got != uintptr(r) || err != nil {
		t.Errorf("dup2(r, r): got (%d, %v), wanted (%d, nil)", got, err, r)
	}
	if _, err := call(task, Dup2, 99, 99); err != linuxerr.EBADF {
		t.Errorf("dup2(99, 99): got %v, wanted EBADF", err)
	}
}

func TestFcntl(t *testing.T) {
	_, task := newTestTask(t)
	r, w := makePipe(t, task, 0)

	if got, err := call(task, Fcntl, uintptr(w), linux.F_GETPIPE_SZ); got != pipe.DefaultPipeSize || err != nil {
		t.Errorf("F_GETPIPE_SZ: got (%d, %v), wanted (%d, nil)", got, err, pipe.DefaultPipeSize)
	}
	if got, err := call(task, Fcntl, uintptr(w), linux.F_SETPIPE_SZ, 5000); got != 2*hostarch.PageSize || err != nil {
		t.Errorf("F_SETPIPE_SZ(5000): got (%d, %v), wanted (%d, nil)", got, err, 2*hostarch.PageSize)
	}
	if got, _ := call(task, Fcntl, uintptr(r), linux.F_GETPIPE_SZ); got != 2*hostarch.PageSize {
		t.Errorf("F_GETPIPE_SZ on the other end: got %d, wanted %d", got, 2*hostarch.PageSize)
	}
	if _, err := call(task, Fcntl, uintptr(w), linux.F_SETPIPE_SZ, 2*pipe.MaximumPipeSize); err != linuxerr.EINVAL {
		t.Errorf("F_SETPIPE_SZ(2 MiB): got %v, wanted EINVAL", err)
	}

	if got, err := call(task, Fcntl, uintptr(r), linux.F_DUPFD, 5); got != 5 || err != nil {
		t.Errorf("F_DUPFD(5): got (%d, %v), wanted (5, nil)", got, err)
	}
	if got, err := call(task, Fcntl, uintptr(r), linux.F_DUPFD_CLOEXEC, 5); got != 6 || err != nil {
		t.Errorf("F_DUPFD_CLOEXEC(5): got (%d, %v), wanted (6, nil)", got, err)
	}
	if got, _ := call(task, Fcntl, 6, linux.F_GETFD); got != linux.FD_CLOEXEC {
		t.Errorf("F_GETFD(6): got %d, wanted FD_CLOEXEC", got)
	}
	if _, err := call(task, Fcntl, 6, linux.F_SETFD, 0); err != nil {
		t.Errorf("F_SETFD: %v", err)
	}
	if got, _ := call(task, Fcntl, 6, linux.F_GETFD); got != 0 {
		t.Errorf("F_GETFD(6) after F_SETFD(0): got %d, wanted 0", got)
	}

	if _, err := call(task, Fcntl, uintptr(r), linux.F_SETFL, linux.O_NONBLOCK); err != nil {
		t.Fatalf("F_SETFL: %v", err)
	}
	if _, err := readString(t, task, r, 1); err != linuxerr.EAGAIN {
		t.Errorf("read after F_SETFL(O_NONBLOCK): got %v, wanted EAGAIN", err)
	}
	if _, err := call(task, Fcntl, 99, linux.F_GETFL); err != linuxerr.EBADF {
		t.Errorf("fcntl(99): got %v, wanted EBADF", err)
	}
	if _, err := call(task, Fcntl, uintptr(r), 12345); err != linuxerr.EINVAL {
		t.Errorf("unknown fcntl: got %v, wanted EINVAL", err)
	}
}

func TestIoctl(t *testing.T) {
	_, task := newTestTask(t)
	r, w := makePipe(t, task, 0)
	if _, err := writeString(t, task, w, "abc"); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := call(task, Ioctl, uintptr(r), linux.FIONREAD, intAddr); err != nil {
		t.Fatalf("FIONREAD: %v", err)
	}
	var buf [4]byte
	task.CopyInBytes(intAddr, buf[:])
	if got := hostarch.ByteOrder.Uint32(buf[:]); got != 3 {
		t.Errorf("FIONREAD: got %d, wanted 3", got)
	}

	hostarch.ByteOrder.PutUint32(buf[:], 1)
	task.CopyOutBytes(intAddr, buf[:])
	if _, err := call(task, Ioctl, uintptr(r), linux.FIONBIO, intAddr); err != nil {
		t.Fatalf("FIONBIO: %v", err)
	}
	if got, err := readString(t, task, r, 10); got != "abc" || err != nil {
		t.Errorf("read: got (%q, %v), wanted (\"abc\", nil)", got, err)
	}
	if _, err := readString(t, task, r, 10); err != linuxerr.EAGAIN {
		t.Errorf("read after FIONBIO: got %v, wanted EAGAIN", err)
	}

	if _, err := call(task, Ioctl, uintptr(w), linux.FIOCLEX); err != nil {
		t.Errorf("FIOCLEX: %v", err)
	}
	if got, _ := call(task, Fcntl, uintptr(w), linux.F_GETFD); got != linux.FD_CLOEXEC {
		t.Errorf("F_GETFD after FIOCLEX: got %d, wanted FD_CLOEXEC", got)
	}
	if _, err := call(task, Ioctl, uintptr(w), linux.FIONCLEX); err != nil {
		t.Errorf("FIONCLEX: %v", err)
	}
	if got, _ := call(task, Fcntl, uintptr(w), linux.F_GETFD); got != 0 {
		t.Errorf("F_GETFD after FIONCLEX: got %d, wanted 0", got)
	}
	if _, err := call(task, Ioctl, uintptr(w), linux.TCGETS, intAddr); err != linuxerr.ENOTTY {
		t.Errorf("TCGETS: got %v, wanted ENOTTY", err)
	}
	if _, err := call(task, Ioctl, 99, linux.FIONREAD, intAddr); err != linuxerr.EBADF {
		t.Errorf("ioctl(99): got %v, wanted EBADF", err)
	}
}

func writePollFDs(t *testing.T, task *kernel.Task, pfds []linux.PollFD) {
	t.Helper()
	buf := make([]byte, len(pfds)*linux.SizeOfPollFD)
	for i, pfd := range pfds {
		b := buf[i*linux.SizeOfPollFD:]
		hostarch.ByteOrder.PutUint32(b[0:], uint32(pfd.FD))
		hostarch.ByteOrder.PutUint16(b[4:], uint16(pfd.Events))
	}
	if _, err := task.CopyOutBytes(pollAddr, buf); err != nil {
		t.Fatalf("CopyOutBytes: %v", err)
	}
}

// poll runs poll(2) over pfds and returns the count and each revents.
func poll(t *testing.T, task *kernel.Task, pfds []linux.PollFD, timeout int32) (uintptr, []int16, error) {
	t.Helper()
	writePollFDs(t, task, pfds)
	n, err := call(task, Poll, pollAddr, uintptr(len(pfds)), uintptr(timeout))
	if err != nil {
		return 0, nil, err
	}
	got, err := CopyInPollFDs(task, pollAddr, uint(len(pfds)))
	if err != nil {
		t.Fatalf("CopyInPollFDs: %v", err)
	}
	revents := make([]int16, len(got))
	for i := range got {
		revents[i] = got[i].REvents
	}
	return n, revents, nil
}

func TestPoll(t *testing.T) {
	_, task := newTestTask(t)
	r, w := makePipe(t, task, 0)

	pfds := []linux.PollFD{
		{FD: r, Events: linux.POLLIN},
		{FD: w, Events: linux.POLLOUT},
		{FD: 99, Events: linux.POLLIN},
		{FD: -1, Events: linux.POLLIN},
	}
	n, revents, err := poll(t, task, pfds, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 2 {
		t.Errorf("poll: got %d ready, wanted 2", n)
	}
	if diff := cmp.Diff([]int16{0, linux.POLLOUT, linux.POLLNVAL, 0}, revents); diff != "" {
		t.Errorf("revents mismatch (-want +got):\n%s", diff)
	}

	writeString(t, task, w, "x")
	call(task, Close, uintptr(w))
	_, revents, err = poll(t, task, pfds[:1], 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if want := []int16{linux.POLLIN | linux.POLLHUP}; !cmp.Equal(want, revents) {
		t.Errorf("revents after writer closed: got %#x, wanted %#x", revents, want)
	}
}

func TestPollTimeout(t *testing.T) {
	_, task := newTestTask(t)
	r, _ := makePipe(t, task, 0)

	start := time.Now()
	n, revents, err := poll(t, task, []linux.PollFD{{FD: r, Events: linux.POLLIN}}, 20)
	if n != 0 || err != nil {
		t.Errorf("poll: got (%d, %v), wanted (0, nil)", n, err)
	}
	if revents[0] != 0 {
		t.Errorf("revents: got %#x, wanted 0", revents[0])
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("poll returned after %v, before its timeout", elapsed)
	}
}

func TestPollWakes(t *testing.T) {
	l, task := newTestTask(t)
	writer := newTestThread(t, l, task)
	r, w := makePipe(t, task, 0)

	var g errgroup.Group
	g.Go(func() error {
		time.Sleep(10 * time.Millisecond)
		_, err := call(writer, Write, uintptr(w), srcAddr, 1)
		return err
	})
	n, revents, err := poll(t, task, []linux.PollFD{{FD: r, Events: linux.POLLIN}}, -1)
	if err := g.Wait(); err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 1 || err != nil || revents[0] != linux.POLLIN {
		t.Errorf("poll: got (%d, %v) revents %#x, wanted (1, nil) POLLIN", n, err, revents)
	}
}

func TestLargeWriteIsDelivered(t *testing.T) {
	l, task := newTestTask(t)
	reader := newTestThread(t, l, task)
	r, w := makePipe(t, task, 0)
	if _, err := call(task, Fcntl, uintptr(w), linux.F_SETPIPE_SZ, pipe.MinimumPipeSize); err != nil {
		t.Fatalf("F_SETPIPE_SZ: %v", err)
	}

	const size = 3 * hostarch.PageSize
	msg := bytes.Repeat([]byte("0123456789abcdef"), size/16)
	task.CopyOutBytes(0, msg)

	var g errgroup.Group
	var got []byte
	g.Go(func() error {
		for len(got) < size {
			n, err := call(reader, Read, uintptr(r), size, hostarch.PageSize)
			if err != nil {
				return err
			}
			buf := make([]byte, n)
			reader.CopyInBytes(size, buf)
			got = append(got, buf...)
		}
		return nil
	})
	if n, err := call(task, Write, uintptr(w), 0, size); n != size || err != nil {
		t.Errorf("write: got (%d, %v), wanted (%d, nil)", n, err, size)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("reader got %d bytes that differ from those written", len(got))
	}
}
