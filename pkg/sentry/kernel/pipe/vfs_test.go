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
	"bytes"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/hostarch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/vfs"
	"github.com/vsrinivas/fuchsia-sub100/pkg/usermem"
	"github.com/vsrinivas/fuchsia-sub100/pkg/waiter"
)

type testFilesystem struct {
	vfsfs vfs.Filesystem
}

func (*testFilesystem) Release(context.Context) {}

// testDentry is a FIFO node backed by a VFSPipe.
type testDentry struct {
	vfsd vfs.Dentry
	vp   *VFSPipe
}

func (d *testDentry) Inode() vfs.Inode         { return testInode{d.vp} }
func (d *testDentry) Release(context.Context) {}

type testInode struct {
	vp *VFSPipe
}

func (testInode) Mode() linux.FileMode { return linux.ModeNamedPipe | 0600 }

func (testInode) Stat(context.Context, vfs.StatOptions) (linux.Statx, error) {
	return linux.Statx{Mode: linux.ModeNamedPipe | 0600, Blksize: linux.PIPE_BUF}, nil
}

func (i testInode) Open(ctx context.Context, mnt *vfs.Mount, d *vfs.Dentry, opts vfs.OpenOptions) (*vfs.FileDescription, error) {
	return i.vp.Open(ctx, mnt, d, opts.Flags)
}

type pipeFixture struct {
	vfsObj *vfs.VirtualFilesystem
	mnt    *vfs.Mount
	d      *testDentry
	r, w   *vfs.FileDescription
}

func newPipeFixture(t *testing.T, sizeBytes int64, statusFlags uint32) *pipeFixture {
	t.Helper()
	ctx := context.Background()
	f := &pipeFixture{vfsObj: &vfs.VirtualFilesystem{}}
	if err := f.vfsObj.Init(ctx); err != nil {
		t.Fatalf("VFS Init: %v", err)
	}
	fs := &testFilesystem{}
	fs.vfsfs.Init(f.vfsObj, "testpipefs", 0, fs)
	f.d = &testDentry{vp: NewVFSPipe(sizeBytes)}
	f.d.vfsd.Init(f.d)
	f.mnt = f.vfsObj.NewDisconnectedMount(&fs.vfsfs, &f.d.vfsd)
	fs.vfsfs.DecRef(ctx)
	f.d.vfsd.DecRef(ctx)

	r, w, err := f.d.vp.ReaderWriterPair(ctx, f.mnt, &f.d.vfsd, statusFlags)
	if err != nil {
		t.Fatalf("ReaderWriterPair: %v", err)
	}
	f.r, f.w = r, w
	t.Cleanup(func() { f.mnt.DecRef(ctx) })
	return f
}

func (f *pipeFixture) pipe() *Pipe {
	return f.d.vp.Pipe()
}

func newTestTask(t *testing.T) *kernel.Task {
	t.Helper()
	ctx := context.Background()
	k := &kernel.Kernel{}
	if err := k.Init(ctx, kernel.InitKernelArgs{}); err != nil {
		t.Fatalf("kernel Init: %v", err)
	}
	task, err := k.NewTask(ctx, kernel.TaskConfig{MemorySize: hostarch.PageSize})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	t.Cleanup(func() { task.Exit(ctx) })
	return task
}

func TestVFSPipeRW(t *testing.T) {
	ctx := context.Background()
	f := newPipeFixture(t, DefaultPipeSize, 0)
	defer f.r.DecRef(ctx)
	defer f.w.DecRef(ctx)

	if f.r.IsWritable() || !f.r.IsReadable() || f.w.IsReadable() || !f.w.IsWritable() {
		t.Fatalf("pipe ends have wrong access modes")
	}

	msg := []byte("here's some bytes")
	wantN := int64(len(msg))
	n, err := f.w.Write(ctx, usermem.BytesIOSequence(msg), vfs.WriteOptions{})
	if n != wantN || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (%d, nil)", n, err, wantN)
	}

	buf := make([]byte, len(msg))
	n, err = f.r.Read(ctx, usermem.BytesIOSequence(buf), vfs.ReadOptions{})
	if n != wantN || err != nil || !bytes.Equal(buf, msg) {
		t.Fatalf("Read: got (%d, %v) %q, wanted (%d, nil) %q", n, err, buf, wantN, msg)
	}

	if _, err := f.r.Write(ctx, usermem.BytesIOSequence(msg), vfs.WriteOptions{}); err != linuxerr.EBADF {
		t.Errorf("Write on read end: got %v, wanted EBADF", err)
	}
	if _, err := f.w.PRead(ctx, usermem.BytesIOSequence(buf), 0, vfs.ReadOptions{}); err != linuxerr.ESPIPE {
		t.Errorf("PRead: got %v, wanted ESPIPE", err)
	}
	if _, err := f.w.Seek(ctx, 0, 0); err != linuxerr.ESPIPE {
		t.Errorf("Seek: got %v, wanted ESPIPE", err)
	}
	if err := f.w.Allocate(ctx, 0, 0, 1); err != linuxerr.ESPIPE {
		t.Errorf("Allocate: got %v, wanted ESPIPE", err)
	}
	stat, err := f.r.Stat(ctx, vfs.StatOptions{})
	if err != nil || linux.FileMode(stat.Mode).FileType() != linux.ModeNamedPipe {
		t.Errorf("Stat: got (%v, %v), wanted a FIFO", linux.FileMode(stat.Mode), err)
	}
}

func TestVFSPipeNonblocking(t *testing.T) {
	ctx := context.Background()
	f := newPipeFixture(t, MinimumPipeSize, linux.O_NONBLOCK)
	defer f.r.DecRef(ctx)
	defer f.w.DecRef(ctx)

	n, err := f.r.Read(ctx, usermem.BytesIOSequence(make([]byte, 1)), vfs.ReadOptions{})
	if n != 0 || err != linuxerr.ErrWouldBlock {
		t.Fatalf("Read: got (%d, %v), wanted (0, %v)", n, err, linuxerr.ErrWouldBlock)
	}

	// A non-blocking write that does not fit returns what fit.
	msg := make([]byte, MinimumPipeSize+1)
	n, err = f.w.Write(ctx, usermem.BytesIOSequence(msg), vfs.WriteOptions{})
	if n != MinimumPipeSize || err != nil {
		t.Fatalf("Write: got (%d, %v), wanted (%d, nil)", n, err, MinimumPipeSize)
	}
	n, err = f.w.Write(ctx, usermem.BytesIOSequence(msg), vfs.WriteOptions{})
	if n != 0 || err != linuxerr.ErrWouldBlock {
		t.Fatalf("Write to full pipe: got (%d, %v), wanted (0, %v)", n, err, linuxerr.ErrWouldBlock)
	}
}

func TestVFSPipeWriteUntilEnd(t *testing.T) {
	ctx := context.Background()
	f := newPipeFixture(t, MinimumPipeSize, 0)
	defer f.w.DecRef(ctx)

	msg := make([]byte, 5*MinimumPipeSize+17)
	for i := range msg {
		msg[i] = byte(i)
	}

	var g errgroup.Group
	got := make([]byte, 0, len(msg))
	g.Go(func() error {
		defer f.r.DecRef(ctx)
		// Read from r until all of msg has arrived.
		e, ch := waiter.NewChannelEntry(waiter.ReadableEvents)
		f.r.EventRegister(&e)
		defer f.r.EventUnregister(&e)
		buf := make([]byte, 1000)
		for len(got) < len(msg) {
			n, err := f.r.Read(ctx, usermem.BytesIOSequence(buf), vfs.ReadOptions{})
			got = append(got, buf[:n]...)
			if err == linuxerr.ErrWouldBlock {
				<-ch
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})

	n, err := f.w.Write(ctx, usermem.BytesIOSequence(msg), vfs.WriteOptions{})
	if n != int64(len(msg)) || err != nil {
		t.Errorf("Write: got (%d, %v), wanted (%d, nil)", n, err, len(msg))
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("reader: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("reader got %d bytes that differ from the %d written", len(got), len(msg))
	}
}

func TestVFSPipeEPIPESendsSIGPIPE(t *testing.T) {
	task := newTestTask(t)
	f := newPipeFixture(t, DefaultPipeSize, 0)
	defer f.w.DecRef(task)
	f.r.DecRef(task)

	// With a handler installed, SIGPIPE is queued.
	if _, err := task.SetSignalAction(linux.SIGPIPE, arch.SignalAct{Handler: 0x1000}); err != nil {
		t.Fatalf("SetSignalAction: %v", err)
	}
	n, err := f.w.Write(task, usermem.BytesIOSequence([]byte("x")), vfs.WriteOptions{})
	if n != 0 || err != linuxerr.EPIPE {
		t.Fatalf("Write: got (%d, %v), wanted (0, EPIPE)", n, err)
	}
	if want := linux.MakeSignalSet(linux.SIGPIPE); task.PendingSignals() != want {
		t.Errorf("PendingSignals: got %#x, wanted %#x", task.PendingSignals(), want)
	}
	task.DequeueSignal()

	// With the default action, SIGPIPE kills the writer.
	if _, err := task.SetSignalAction(linux.SIGPIPE, arch.SignalAct{Handler: arch.SignalActDefault}); err != nil {
		t.Fatalf("SetSignalAction: %v", err)
	}
	if _, err := f.w.Write(task, usermem.BytesIOSequence([]byte("x")), vfs.WriteOptions{}); err != linuxerr.EPIPE {
		t.Fatalf("Write: got %v, wanted EPIPE", err)
	}
	if sig, killed := task.Killed(); !killed || sig != linux.SIGPIPE {
		t.Errorf("Killed: got (%v, %t), wanted (SIGPIPE, true)", sig, killed)
	}
}

func TestVFSPipeEPIPEKeepsPartialCredit(t *testing.T) {
	task := newTestTask(t)
	f := newPipeFixture(t, MinimumPipeSize, 0)
	defer f.w.DecRef(task)

	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := f.w.Write(task, usermem.BytesIOSequence(make([]byte, 3*MinimumPipeSize)), vfs.WriteOptions{})
		done <- result{n, err}
	}()

	// Wait for the writer to fill the pipe, then break it.
	for f.pipe().Queued() < MinimumPipeSize {
		time.Sleep(time.Millisecond)
	}
	f.r.DecRef(task)

	res := <-done
	if res.n != MinimumPipeSize || res.err != nil {
		t.Errorf("Write: got (%d, %v), wanted (%d, nil)", res.n, res.err, MinimumPipeSize)
	}
	if got := task.PendingSignals(); got != 0 {
		t.Errorf("PendingSignals: got %#x, wanted none", got)
	}
	if _, killed := task.Killed(); killed {
		t.Errorf("writer was killed despite writing %d bytes", res.n)
	}
}

func TestVFSPipeWriteInterrupted(t *testing.T) {
	task := newTestTask(t)
	f := newPipeFixture(t, MinimumPipeSize, 0)
	defer f.r.DecRef(task)
	defer f.w.DecRef(task)

	if _, err := f.w.Write(task, usermem.BytesIOSequence(make([]byte, MinimumPipeSize)), vfs.WriteOptions{}); err != nil {
		t.Fatalf("filling Write: %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		task.Interrupt()
	}()
	n, err := f.w.Write(task, usermem.BytesIOSequence([]byte("x")), vfs.WriteOptions{})
	if n != 0 || err != linuxerr.ErrInterrupted {
		t.Errorf("Write: got (%d, %v), wanted (0, ErrInterrupted)", n, err)
	}
}

func TestVFSPipeReadiness(t *testing.T) {
	ctx := context.Background()
	f := newPipeFixture(t, DefaultPipeSize, 0)
	defer f.r.DecRef(ctx)

	const all = waiter.EventIn | waiter.EventOut | waiter.EventErr | waiter.EventHUp
	if got := f.r.Readiness(all); got != 0 {
		t.Errorf("empty read end: got %#x, wanted 0", got)
	}
	if got := f.w.Readiness(all); got != waiter.EventOut {
		t.Errorf("write end: got %#x, wanted EventOut", got)
	}
	f.w.DecRef(ctx)
	if got := f.r.Readiness(all); got != waiter.EventHUp {
		t.Errorf("read end after writer closed: got %#x, wanted EventHUp", got)
	}
}

func TestVFSPipeWaitAsync(t *testing.T) {
	ctx := context.Background()
	f := newPipeFixture(t, DefaultPipeSize, 0)
	defer f.r.DecRef(ctx)
	defer f.w.DecRef(ctx)

	// Already writable: fires immediately without registering.
	var fired waiter.EventMask
	key, err := f.w.WaitAsync(ctx, waiter.EventOut, func(m waiter.EventMask) { fired = m }, vfs.WaitAsyncOptions{})
	if err != nil || key != 0 || fired != waiter.EventOut {
		t.Fatalf("WaitAsync on ready end: got (key %d, %v) fired %#x, wanted (0, nil) fired EventOut", key, err, fired)
	}
	if !f.pipe().IsEmpty() {
		t.Errorf("WaitAsync on ready end left a registration")
	}

	// Not yet readable: registers and fires once data arrives.
	fired = 0
	key, err = f.r.WaitAsync(ctx, waiter.EventIn, func(m waiter.EventMask) { fired = m }, vfs.WaitAsyncOptions{})
	if err != nil || key == 0 {
		t.Fatalf("WaitAsync: got (key %d, %v), wanted a registration", key, err)
	}
	if _, err := f.w.Write(ctx, usermem.BytesIOSequence([]byte("x")), vfs.WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if fired&waiter.EventIn == 0 {
		t.Errorf("handler not called with EventIn after write, got %#x", fired)
	}
	if f.r.CancelWait(key) {
		t.Errorf("CancelWait after the wait fired: got true, wanted false")
	}

	// Edge-triggered waits register even when ready.
	key, err = f.r.WaitAsync(ctx, waiter.EventIn, func(waiter.EventMask) {}, vfs.WaitAsyncOptions{EdgeTriggered: true})
	if err != nil || key == 0 {
		t.Fatalf("edge-triggered WaitAsync: got (key %d, %v), wanted a registration", key, err)
	}
	if !f.r.CancelWait(key) {
		t.Errorf("CancelWait of a pending wait: got false, wanted true")
	}
	if f.r.CancelWait(key) {
		t.Errorf("second CancelWait: got true, wanted false")
	}
}

func TestVFSPipeFcntl(t *testing.T) {
	ctx := context.Background()
	f := newPipeFixture(t, DefaultPipeSize, linux.O_NONBLOCK)
	defer f.r.DecRef(ctx)
	defer f.w.DecRef(ctx)

	if got, err := f.w.Fcntl(ctx, linux.F_GETPIPE_SZ, 0); got != DefaultPipeSize || err != nil {
		t.Errorf("F_GETPIPE_SZ: got (%d, %v), wanted (%d, nil)", got, err, DefaultPipeSize)
	}
	if got, err := f.r.Fcntl(ctx, linux.F_SETPIPE_SZ, 5000); got != 2*hostarch.PageSize || err != nil {
		t.Errorf("F_SETPIPE_SZ(5000): got (%d, %v), wanted (%d, nil)", got, err, 2*hostarch.PageSize)
	}
	if got, err := f.w.Fcntl(ctx, linux.F_GETPIPE_SZ, 0); got != 2*hostarch.PageSize || err != nil {
		t.Errorf("F_GETPIPE_SZ after resize: got (%d, %v), wanted (%d, nil)", got, err, 2*hostarch.PageSize)
	}
	if _, err := f.w.Fcntl(ctx, linux.F_SETPIPE_SZ, MaximumPipeSize+1); err != linuxerr.EINVAL {
		t.Errorf("F_SETPIPE_SZ(max+1): got %v, wanted EINVAL", err)
	}
	if got, err := f.w.Fcntl(ctx, linux.F_GETFL, 0); got != linux.O_WRONLY|linux.O_NONBLOCK || err != nil {
		t.Errorf("F_GETFL: got (%#o, %v), wanted (%#o, nil)", got, err, linux.O_WRONLY|linux.O_NONBLOCK)
	}
	if _, err := f.w.Fcntl(ctx, 12345, 0); err != linuxerr.EINVAL {
		t.Errorf("unknown fcntl: got %v, wanted EINVAL", err)
	}
}

func TestVFSPipeIoctl(t *testing.T) {
	ctx := context.Background()
	f := newPipeFixture(t, DefaultPipeSize, 0)
	defer f.r.DecRef(ctx)
	defer f.w.DecRef(ctx)

	const k = 1234
	if _, err := f.w.Write(ctx, usermem.BytesIOSequence(make([]byte, k)), vfs.WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	mem := &usermem.BytesIO{Bytes: make([]byte, 8)}
	if _, err := f.r.Ioctl(ctx, mem, arch.Args(0, linux.FIONREAD, 4)); err != nil {
		t.Fatalf("FIONREAD: %v", err)
	}
	if got := int32(hostarch.ByteOrder.Uint32(mem.Bytes[4:])); got != k {
		t.Errorf("FIONREAD: got %d, wanted %d", got, k)
	}
	if _, err := f.r.Ioctl(ctx, mem, arch.Args(0, linux.TCGETS, 0)); err != linuxerr.ENOTTY {
		t.Errorf("TCGETS: got %v, wanted ENOTTY", err)
	}
	if _, err := f.r.Ioctl(ctx, mem, arch.Args(0, linux.FIONREAD, 6)); err != linuxerr.EFAULT {
		t.Errorf("FIONREAD to a bad address: got %v, wanted EFAULT", err)
	}
}

func TestVFSPipeReopen(t *testing.T) {
	ctx := context.Background()
	f := newPipeFixture(t, DefaultPipeSize, 0)
	defer f.w.DecRef(ctx)

	// A second read end, as from opening /proc/self/fd/N.
	r2, err := f.vfsObj.OpenDentry(ctx, f.mnt, &f.d.vfsd, &vfs.OpenOptions{Flags: linux.O_RDONLY})
	if err != nil {
		t.Fatalf("OpenDentry: %v", err)
	}
	p := f.pipe()
	p.mu.Lock()
	readers := p.readers
	p.mu.Unlock()
	if readers != 2 {
		t.Errorf("readers after re-open: got %d, wanted 2", readers)
	}

	f.r.DecRef(ctx)
	if _, err := f.w.Write(ctx, usermem.BytesIOSequence([]byte("x")), vfs.WriteOptions{}); err != nil {
		t.Errorf("Write with one reader left: %v", err)
	}
	r2.DecRef(ctx)
	if _, err := f.w.Write(ctx, usermem.BytesIOSequence([]byte("x")), vfs.WriteOptions{}); err != linuxerr.EPIPE {
		t.Errorf("Write with no readers: got %v, wanted EPIPE", err)
	}

	if _, err := f.d.vp.Open(ctx, f.mnt, &f.d.vfsd, linux.O_ACCMODE); err != linuxerr.EINVAL {
		t.Errorf("Open with no access mode: got %v, wanted EINVAL", err)
	}
}
