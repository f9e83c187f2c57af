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
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/refs"
)

// A Mount is a replacement of a Dentry (Mount.key.point) from one Filesystem
// (Mount.key.parent.fs) with a Dentry (Mount.root) from another Filesystem
// (Mount.fs), which applies to path resolution in the context of a particular
// Mount (Mount.key.parent). Only disconnected mounts, which back internal
// filesystems like pipefs, are supported here.
//
// Mounts are reference-counted.
type Mount struct {
	refs refs.Refs

	// vfs, fs and root are immutable. References are held on fs and root.
	vfs  *VirtualFilesystem
	fs   *Filesystem
	root *Dentry
}

// Filesystem returns the mounted Filesystem. It does not take a reference on
// the returned Filesystem.
func (mnt *Mount) Filesystem() *Filesystem {
	return mnt.fs
}

// Root returns the mount's root Dentry. It does not take a reference.
func (mnt *Mount) Root() *Dentry {
	return mnt.root
}

// IncRef increments mnt's reference count.
func (mnt *Mount) IncRef() {
	mnt.refs.IncRef()
}

// DecRef decrements mnt's reference count, releasing its root and
// filesystem at zero.
func (mnt *Mount) DecRef(ctx context.Context) {
	mnt.refs.DecRef(func() {
		if mnt.root != nil {
			mnt.root.DecRef(ctx)
		}
		mnt.fs.DecRef(ctx)
	})
}
