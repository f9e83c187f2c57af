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
	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/refs"
)

// Dentry represents a node in a Filesystem tree at which a file exists.
//
// Dentries are reference-counted. Unless otherwise specified, all Dentry
// methods require that a reference is held.
//
// Dentry is loosely analogous to Linux's struct dentry. Here every Dentry is
// bound to exactly one Inode, which is sufficient for the anonymous
// filesystems this package serves.
type Dentry struct {
	refs refs.Refs

	// impl is the DentryImpl associated with this Dentry. impl is immutable.
	// This should be the last field in Dentry.
	impl DentryImpl
}

// Init must be called before first use of d. d starts with one reference.
func (d *Dentry) Init(impl DentryImpl) {
	d.refs.InitRefs("vfs.Dentry")
	d.impl = impl
}

// Impl returns the DentryImpl associated with d.
func (d *Dentry) Impl() DentryImpl {
	return d.impl
}

// IncRef increments d's reference count.
func (d *Dentry) IncRef() {
	d.refs.IncRef()
}

// DecRef decrements d's reference count, releasing its implementation at
// zero.
func (d *Dentry) DecRef(ctx context.Context) {
	d.refs.DecRef(func() {
		d.impl.Release(ctx)
	})
}

// DentryImpl contains implementation details for a Dentry. Implementations of
// DentryImpl should contain their associated Dentry by value as their first
// field.
type DentryImpl interface {
	// Inode returns the inode that d names.
	Inode() Inode

	// Release is called when the associated Dentry reaches zero references.
	Release(ctx context.Context)
}

// Inode is the file a Dentry names.
type Inode interface {
	// Mode returns the file type and permissions of the inode.
	Mode() linux.FileMode

	// Stat returns metadata for the inode.
	Stat(ctx context.Context, opts StatOptions) (linux.Statx, error)

	// Open returns a new FileDescription for the inode, opened with
	// opts.Flags. It takes references on mnt and d.
	Open(ctx context.Context, mnt *Mount, d *Dentry, opts OpenOptions) (*FileDescription, error)
}
