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

package pipefs

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel/auth"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel/pipe"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/vfs"
	"github.com/vsrinivas/fuchsia-sub100/pkg/usermem"
)

func newMount(t *testing.T) (*vfs.VirtualFilesystem, *vfs.Mount) {
	t.Helper()
	ctx := context.Background()
	vfsObj := &vfs.VirtualFilesystem{}
	if err := vfsObj.Init(ctx); err != nil {
		t.Fatalf("VFS Init: %v", err)
	}
	fs, err := NewFilesystem(vfsObj)
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	mnt := vfsObj.NewDisconnectedMount(fs, nil)
	fs.DecRef(ctx)
	return vfsObj, mnt
}

func TestNewConnectedPipeFDs(t *testing.T) {
	ctx := context.WithValue(context.Background(), auth.CtxCredentials, auth.NewUserCredentials(1000, 1001))
	_, mnt := newMount(t)
	defer mnt.DecRef(ctx)

	r, w, err := NewConnectedPipeFDs(ctx, mnt, linux.O_NONBLOCK)
	if err != nil {
		t.Fatalf("NewConnectedPipeFDs: %v", err)
	}
	defer r.DecRef(ctx)
	defer w.DecRef(ctx)

	if !r.IsReadable() || r.IsWritable() {
		t.Errorf("read end: readable=%t writable=%t", r.IsReadable(), r.IsWritable())
	}
	if w.IsReadable() || !w.IsWritable() {
		t.Errorf("write end: readable=%t writable=%t", w.IsReadable(), w.IsWritable())
	}
	if !r.IsNonblocking() || !w.IsNonblocking() {
		t.Errorf("O_NONBLOCK not applied to both ends")
	}
	if r.Dentry() != w.Dentry() {
		t.Errorf("ends do not share a dentry")
	}

	rs, err := r.Stat(ctx, vfs.StatOptions{})
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	ws, _ := w.Stat(ctx, vfs.StatOptions{})
	if diff := cmp.Diff(rs, ws); diff != "" {
		t.Errorf("ends stat differently (-r +w):\n%s", diff)
	}
	want := linux.Statx{
		Mask:     rs.Mask,
		Blksize:  linux.PIPE_BUF,
		Nlink:    1,
		UID:      1000,
		GID:      1001,
		Mode:     linux.S_IFIFO | 0600,
		Ino:      rs.Ino,
		Ctime:    rs.Ctime,
		DevMajor: linux.UNNAMED_MAJOR,
		DevMinor: mnt.Filesystem().DevMinor(),
	}
	if diff := cmp.Diff(want, rs); diff != "" {
		t.Errorf("Stat mismatch (-want +got):\n%s", diff)
	}
	if rs.Ino == 0 {
		t.Errorf("Stat: inode number is 0")
	}

	name, ok := PipeName(r)
	if wantName := fmt.Sprintf("pipe:[%d]", rs.Ino); !ok || name != wantName {
		t.Errorf("PipeName: got (%q, %t), wanted (%q, true)", name, ok, wantName)
	}

	msg := []byte("hello")
	if n, err := w.Write(ctx, usermem.BytesIOSequence(msg), vfs.WriteOptions{}); n != int64(len(msg)) || err != nil {
		t.Fatalf("Write: got (%d, %v)", n, err)
	}
	buf := make([]byte, 16)
	n, err := r.Read(ctx, usermem.BytesIOSequence(buf), vfs.ReadOptions{})
	if err != nil || !bytes.Equal(buf[:n], msg) {
		t.Errorf("Read: got (%q, %v), wanted %q", buf[:n], err, msg)
	}
	if got, _ := r.Fcntl(ctx, linux.F_GETPIPE_SZ, 0); got != pipe.DefaultPipeSize {
		t.Errorf("F_GETPIPE_SZ: got %d, wanted %d", got, pipe.DefaultPipeSize)
	}
}

func TestDistinctPipes(t *testing.T) {
	ctx := context.Background()
	_, mnt := newMount(t)
	defer mnt.DecRef(ctx)

	var inos []uint64
	for i := 0; i < 3; i++ {
		r, w, err := NewConnectedPipeFDs(ctx, mnt, 0)
		if err != nil {
			t.Fatalf("NewConnectedPipeFDs: %v", err)
		}
		st, _ := r.Stat(ctx, vfs.StatOptions{})
		inos = append(inos, st.Ino)
		r.DecRef(ctx)
		w.DecRef(ctx)
	}
	if inos[0] == inos[1] || inos[1] == inos[2] || inos[0] == inos[2] {
		t.Errorf("pipes share inode numbers: %v", inos)
	}
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	vfsObj, mnt := newMount(t)
	defer mnt.DecRef(ctx)

	r, w, err := NewConnectedPipeFDs(ctx, mnt, 0)
	if err != nil {
		t.Fatalf("NewConnectedPipeFDs: %v", err)
	}
	defer w.DecRef(ctx)

	// Re-open the read end's node for writing and write through it.
	w2, err := vfsObj.OpenDentry(ctx, mnt, r.Dentry(), &vfs.OpenOptions{Flags: linux.O_WRONLY})
	if err != nil {
		t.Fatalf("OpenDentry: %v", err)
	}
	if _, err := w2.Write(ctx, usermem.BytesIOSequence([]byte("x")), vfs.WriteOptions{}); err != nil {
		t.Errorf("Write through re-opened end: %v", err)
	}
	w2.DecRef(ctx)

	r.DecRef(ctx)
	if _, err := w.Write(ctx, usermem.BytesIOSequence([]byte("x")), vfs.WriteOptions{}); err != linuxerr.EPIPE {
		t.Errorf("Write after last reader closed: got %v, wanted EPIPE", err)
	}
}

func TestReleaseReturnsMinor(t *testing.T) {
	ctx := context.Background()
	vfsObj, mnt := newMount(t)
	minor := mnt.Filesystem().DevMinor()
	mnt.DecRef(ctx)

	fs, err := NewFilesystem(vfsObj)
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	defer fs.DecRef(ctx)
	if fs.DevMinor() != minor {
		t.Errorf("DevMinor after release: got %d, wanted reuse of %d", fs.DevMinor(), minor)
	}
}
