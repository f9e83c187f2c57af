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
	"sync/atomic"

	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/refs"
)

// A Filesystem is a tree of nodes represented by Dentries, which forms part of
// a VirtualFilesystem.
//
// Filesystems are reference-counted. Unless otherwise specified, all
// Filesystem methods require that a reference is held.
//
// Filesystem is analogous to Linux's struct super_block.
type Filesystem struct {
	refs refs.Refs

	// vfs is the VirtualFilesystem that uses this Filesystem. vfs is
	// immutable.
	vfs *VirtualFilesystem

	// fsType is the name of the filesystem type. fsType is immutable.
	fsType string

	// devMinor is the anonymous device minor number of this Filesystem.
	// devMinor is immutable.
	devMinor uint32

	// lastIno is the last inode number handed out by NextIno.
	lastIno atomic.Uint64

	// impl is the FilesystemImpl associated with this Filesystem. impl is
	// immutable. This should be the last field in Dentry.
	impl FilesystemImpl
}

// Init must be called before first use of fs.
func (fs *Filesystem) Init(vfsObj *VirtualFilesystem, fsType string, devMinor uint32, impl FilesystemImpl) {
	fs.refs.InitRefs("vfs.Filesystem")
	fs.vfs = vfsObj
	fs.fsType = fsType
	fs.devMinor = devMinor
	fs.impl = impl
}

// FilesystemType returns the name of the filesystem type.
func (fs *Filesystem) FilesystemType() string {
	return fs.fsType
}

// VirtualFilesystem returns the containing VirtualFilesystem.
func (fs *Filesystem) VirtualFilesystem() *VirtualFilesystem {
	return fs.vfs
}

// DevMinor returns the anonymous device minor number of fs.
func (fs *Filesystem) DevMinor() uint32 {
	return fs.devMinor
}

// Impl returns the FilesystemImpl associated with fs.
func (fs *Filesystem) Impl() FilesystemImpl {
	return fs.impl
}

// NextIno returns a fresh inode number, unique within fs.
func (fs *Filesystem) NextIno() uint64 {
	return fs.lastIno.Add(1)
}

// IncRef increments fs' reference count.
func (fs *Filesystem) IncRef() {
	fs.refs.IncRef()
}

// DecRef decrements fs' reference count, releasing it at zero.
func (fs *Filesystem) DecRef(ctx context.Context) {
	fs.refs.DecRef(func() {
		fs.impl.Release(ctx)
	})
}

// FilesystemImpl contains implementation details for a Filesystem.
// Implementations of FilesystemImpl should contain their associated Filesystem
// by value as their first field.
type FilesystemImpl interface {
	// Release is called when the associated Filesystem reaches zero
	// references.
	Release(ctx context.Context)
}
