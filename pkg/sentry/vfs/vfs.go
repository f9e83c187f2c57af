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

// Package vfs implements a virtual filesystem layer.
//
// Lock order:
//
//	FileDescription.flagsMu
//	  VirtualFilesystem.anonMu
package vfs

import (
	"sync"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
)

// maxAnonBlockDevMinor is the largest minor number handed out for anonymous
// (UNNAMED_MAJOR) devices, from fs/super.c.
const maxAnonBlockDevMinor = 1<<20 - 1

// A VirtualFilesystem (VFS for short) combines Filesystems in trees of Mounts.
//
// There is no analogue to the VirtualFilesystem type in Linux, as the
// equivalent state in Linux is global.
type VirtualFilesystem struct {
	// anonMu protects the anonymous device minor allocator.
	anonMu sync.Mutex

	// anonBlockDevMinor contains all allocated anonymous block device minor
	// numbers. anonBlockDevMinorNext is a lower bound for the smallest
	// unallocated anonymous block device number.
	anonBlockDevMinorNext uint32
	anonBlockDevMinor     map[uint32]struct{}
}

// Init initializes a new VirtualFilesystem with no mounts.
func (vfs *VirtualFilesystem) Init(ctx context.Context) error {
	if vfs.anonBlockDevMinor != nil {
		panic("VFS already initialized")
	}
	vfs.anonBlockDevMinorNext = 1
	vfs.anonBlockDevMinor = make(map[uint32]struct{})
	ctx.Debugf("vfs: initialized")
	return nil
}

// GetAnonBlockDevMinor allocates and returns an unused minor device number for
// an "anonymous" block device with major number UNNAMED_MAJOR.
func (vfs *VirtualFilesystem) GetAnonBlockDevMinor() (uint32, error) {
	vfs.anonMu.Lock()
	defer vfs.anonMu.Unlock()
	minor := vfs.anonBlockDevMinorNext
	const maxDevMinor = maxAnonBlockDevMinor
	for minor < maxDevMinor {
		if _, ok := vfs.anonBlockDevMinor[minor]; !ok {
			vfs.anonBlockDevMinor[minor] = struct{}{}
			vfs.anonBlockDevMinorNext = minor + 1
			return minor, nil
		}
		minor++
	}
	return 0, linuxerr.EMFILE
}

// PutAnonBlockDevMinor deallocates a minor device number returned by a
// previous call to GetAnonBlockDevMinor.
func (vfs *VirtualFilesystem) PutAnonBlockDevMinor(minor uint32) {
	vfs.anonMu.Lock()
	defer vfs.anonMu.Unlock()
	delete(vfs.anonBlockDevMinor, minor)
	if minor < vfs.anonBlockDevMinorNext {
		vfs.anonBlockDevMinorNext = minor
	}
}

// NewDisconnectedMount returns a Mount representing fs with the given root,
// which is not attached to any mount tree. It takes references on fs and
// root. root may be nil for filesystems whose files are never reached by
// path, like pipefs.
func (vfs *VirtualFilesystem) NewDisconnectedMount(fs *Filesystem, root *Dentry) *Mount {
	fs.IncRef()
	if root != nil {
		root.IncRef()
	}
	mnt := &Mount{
		vfs:  vfs,
		fs:   fs,
		root: root,
	}
	mnt.refs.InitRefs("vfs.Mount")
	return mnt
}

// OpenDentry opens the file at d, which must be on mnt. It is used for
// re-opening special files, like /proc/[pid]/fd/[n] does for pipes.
func (vfs *VirtualFilesystem) OpenDentry(ctx context.Context, mnt *Mount, d *Dentry, opts *OpenOptions) (*FileDescription, error) {
	inode := d.Impl().Inode()
	if opts.Flags&linux.O_PATH != 0 {
		return nil, linuxerr.EINVAL
	}
	return inode.Open(ctx, mnt, d, *opts)
}
