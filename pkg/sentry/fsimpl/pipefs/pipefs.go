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

// Package pipefs provides the filesystem implementation backing
// Kernel.PipeMount.
package pipefs

import (
	"fmt"
	"time"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel/auth"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel/pipe"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/vfs"
)

// Name is the filesystem type name of pipefs.
const Name = "pipefs"

type filesystem struct {
	vfsfs vfs.Filesystem

	devMinor uint32
}

// NewFilesystem sets up and returns a new vfs.Filesystem implemented by pipefs.
func NewFilesystem(vfsObj *vfs.VirtualFilesystem) (*vfs.Filesystem, error) {
	devMinor, err := vfsObj.GetAnonBlockDevMinor()
	if err != nil {
		return nil, err
	}
	fs := &filesystem{
		devMinor: devMinor,
	}
	fs.vfsfs.Init(vfsObj, Name, devMinor, fs)
	return &fs.vfsfs, nil
}

// Release implements vfs.FilesystemImpl.Release.
func (fs *filesystem) Release(ctx context.Context) {
	fs.vfsfs.VirtualFilesystem().PutAnonBlockDevMinor(fs.devMinor)
}

// dentry is the only name an anonymous pipe has. It renders as "pipe:[ino]".
type dentry struct {
	vfsd  vfs.Dentry
	inode *inode
}

// Inode implements vfs.DentryImpl.Inode.
func (d *dentry) Inode() vfs.Inode {
	return d.inode
}

// Release implements vfs.DentryImpl.Release.
func (d *dentry) Release(context.Context) {}

// Name returns the name of the pipe as it appears in /proc/[pid]/fd.
func (d *dentry) Name() string {
	return fmt.Sprintf("pipe:[%d]", d.inode.ino)
}

// inode implements vfs.Inode.
type inode struct {
	fs   *filesystem
	pipe *pipe.VFSPipe

	ino uint64
	uid auth.KUID
	gid auth.KGID
	// We use the creation timestamp for all of atime, mtime, and ctime.
	ctime int64
}

func newInode(ctx context.Context, fs *filesystem) *inode {
	creds := auth.CredentialsFromContext(ctx)
	return &inode{
		fs:    fs,
		pipe:  pipe.NewVFSPipe(pipe.DefaultPipeSize),
		ino:   fs.vfsfs.NextIno(),
		uid:   creds.EffectiveKUID,
		gid:   creds.EffectiveKGID,
		ctime: time.Now().UnixNano(),
	}
}

const pipeMode = 0600 | linux.S_IFIFO

// Mode implements vfs.Inode.Mode.
func (i *inode) Mode() linux.FileMode {
	return pipeMode
}

// Stat implements vfs.Inode.Stat.
func (i *inode) Stat(context.Context, vfs.StatOptions) (linux.Statx, error) {
	return linux.Statx{
		Mask:     linux.STATX_TYPE | linux.STATX_MODE | linux.STATX_NLINK | linux.STATX_UID | linux.STATX_GID | linux.STATX_CTIME | linux.STATX_INO | linux.STATX_SIZE | linux.STATX_BLOCKS,
		Blksize:  linux.PIPE_BUF,
		Nlink:    1,
		UID:      uint32(i.uid),
		GID:      uint32(i.gid),
		Mode:     pipeMode,
		Ino:      i.ino,
		Ctime:    i.ctime,
		DevMajor: linux.UNNAMED_MAJOR,
		DevMinor: i.fs.devMinor,
	}, nil
}

// Open implements vfs.Inode.Open.
func (i *inode) Open(ctx context.Context, mnt *vfs.Mount, d *vfs.Dentry, opts vfs.OpenOptions) (*vfs.FileDescription, error) {
	return i.pipe.Open(ctx, mnt, d, opts.Flags)
}

// NewConnectedPipeFDs returns a pair of FileDescriptions representing the read
// and write ends of a newly-created pipe, as for pipe(2) and pipe2(2).
//
// Preconditions: mnt.Filesystem() must have been returned by NewFilesystem().
func NewConnectedPipeFDs(ctx context.Context, mnt *vfs.Mount, flags uint32) (*vfs.FileDescription, *vfs.FileDescription, error) {
	fs := mnt.Filesystem().Impl().(*filesystem)
	d := &dentry{inode: newInode(ctx, fs)}
	d.vfsd.Init(d)
	defer d.vfsd.DecRef(ctx)
	return d.inode.pipe.ReaderWriterPair(ctx, mnt, &d.vfsd, flags)
}

// PipeName returns the name of the pipe that fd refers to, and false if fd is
// not a pipefs file.
func PipeName(fd *vfs.FileDescription) (string, bool) {
	d, ok := fd.Dentry().Impl().(*dentry)
	if !ok {
		return "", false
	}
	return d.Name(), true
}
