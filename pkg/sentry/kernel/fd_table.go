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

package kernel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/refs"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/vfs"
)

// fdTreeDegree is the B-tree degree of the set of used descriptors.
const fdTreeDegree = 16

// FDFlags define flags for an individual descriptor.
type FDFlags struct {
	// CloseOnExec indicates the descriptor should be closed on exec.
	CloseOnExec bool
}

// ToLinuxFileFlags converts a kernel.FDFlags object to a Linux file flags
// representation.
func (f FDFlags) ToLinuxFileFlags() (mask uint) {
	if f.CloseOnExec {
		mask |= linux.O_CLOEXEC
	}
	return
}

// ToLinuxFDFlags converts a kernel.FDFlags object to a Linux descriptor flags
// representation.
func (f FDFlags) ToLinuxFDFlags() (mask uint) {
	if f.CloseOnExec {
		mask |= linux.FD_CLOEXEC
	}
	return
}

// descriptor holds the details about a file descriptor, namely a pointer to
// the file itself and the descriptor flags.
//
// Note that this is immutable and can only be changed via operations on the
// FDTable.
type descriptor struct {
	file  *vfs.FileDescription
	flags FDFlags
}

// FDTable is used to manage File references and flags.
//
// Several descriptors may refer to one FileDescription (dup(2)); each holds
// its own reference, and the FileDescription is released when the last one
// is removed.
type FDTable struct {
	refs.Refs

	// uid is a unique identifier.
	uid uint64

	// limit is one past the largest allowed descriptor.
	limit int32

	// mu protects below.
	mu sync.Mutex

	// used orders the allocated descriptors so that the lowest free one can
	// be found without scanning the whole table.
	used *btree.BTreeG[int32]

	descriptors map[int32]descriptor
}

// NewFDTable allocates a new FDTable that may be used by tasks in k.
func (k *Kernel) NewFDTable() *FDTable {
	f := newFDTable(k.maxFDs)
	f.uid = k.fdMapUids.Add(1)
	return f
}

func newFDTable(limit int32) *FDTable {
	f := &FDTable{
		limit:       limit,
		used:        btree.NewOrderedG[int32](fdTreeDegree),
		descriptors: make(map[int32]descriptor),
	}
	f.InitRefs("kernel.FDTable")
	return f
}

// ID returns a unique identifier for this FDTable.
func (f *FDTable) ID() uint64 {
	return f.uid
}

// DecRef implements RefCounter.DecRef with destructor f.RemoveAll.
func (f *FDTable) DecRef(ctx context.Context) {
	f.Refs.DecRef(func() {
		f.RemoveAll(ctx)
	})
}

// Size returns the number of file descriptor slots currently allocated.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.descriptors)
}

// Limit returns one past the largest descriptor f may hold.
func (f *FDTable) Limit() int32 {
	return f.limit
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	var b strings.Builder
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used.Ascend(func(fd int32) bool {
		d := f.descriptors[fd]
		fmt.Fprintf(&b, "\tfd:%d => flags %#o cloexec %t\n", fd, d.file.StatusFlags(), d.flags.CloseOnExec)
		return true
	})
	return b.String()
}

// setLocked installs file at fd, taking a reference on it, or clears fd if
// file is nil. It returns the descriptor previously at fd, if any; the caller
// inherits its reference.
//
// Preconditions: f.mu must be locked.
func (f *FDTable) setLocked(fd int32, file *vfs.FileDescription, flags FDFlags) (descriptor, bool) {
	old, ok := f.descriptors[fd]
	if file == nil {
		if ok {
			delete(f.descriptors, fd)
			f.used.Delete(fd)
		}
		return old, ok
	}
	file.IncRef()
	f.descriptors[fd] = descriptor{file: file, flags: flags}
	f.used.ReplaceOrInsert(fd)
	return old, ok
}

// NewFDs allocates new FDs guaranteed to be the lowest number available
// greater than or equal to the fd parameter. All files will share the set
// flags. Success is guaranteed to be all or none.
func (f *FDTable) NewFDs(ctx context.Context, fd int32, files []*vfs.FileDescription, flags FDFlags) (fds []int32, err error) {
	if fd < 0 {
		// Don't accept negative FDs.
		return nil, linuxerr.EINVAL
	}
	if fd >= f.limit {
		return nil, linuxerr.EMFILE
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Collect the gaps between used descriptors, starting at fd.
	next := fd
	f.used.AscendGreaterOrEqual(fd, func(used int32) bool {
		for next < used && next < f.limit && len(fds) < len(files) {
			fds = append(fds, next)
			next++
		}
		next = used + 1
		return len(fds) < len(files) && next < f.limit
	})
	for next < f.limit && len(fds) < len(files) {
		fds = append(fds, next)
		next++
	}
	if len(fds) < len(files) {
		return nil, linuxerr.EMFILE
	}

	for i, file := range files {
		f.setLocked(fds[i], file, flags)
	}
	return fds, nil
}

// NewFD allocates the lowest available descriptor greater than or equal to
// minFD for file.
func (f *FDTable) NewFD(ctx context.Context, minFD int32, file *vfs.FileDescription, flags FDFlags) (int32, error) {
	fds, err := f.NewFDs(ctx, minFD, []*vfs.FileDescription{file}, flags)
	if err != nil {
		return -1, err
	}
	return fds[0], nil
}

// NewFDAt sets the file reference for the given FD. If there is an active
// reference for that FD, the ref count for that existing reference is
// decremented.
func (f *FDTable) NewFDAt(ctx context.Context, fd int32, file *vfs.FileDescription, flags FDFlags) error {
	if fd < 0 {
		// Don't accept negative FDs.
		return linuxerr.EBADF
	}
	if fd >= f.limit {
		return linuxerr.EMFILE
	}

	f.mu.Lock()
	old, ok := f.setLocked(fd, file, flags)
	f.mu.Unlock()

	if ok {
		old.file.DecRef(ctx)
	}
	return nil
}

// SetFlags sets the flags for the given file descriptor.
func (f *FDTable) SetFlags(ctx context.Context, fd int32, flags FDFlags) error {
	if fd < 0 {
		// Don't accept negative FDs.
		return linuxerr.EBADF
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.descriptors[fd]
	if !ok {
		// No file found.
		return linuxerr.EBADF
	}

	// Update the flags.
	d.flags = flags
	f.descriptors[fd] = d
	return nil
}

// Get returns a reference to the file and the flags for the FD or nil if no
// file is defined for the given fd.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Get(fd int32) (*vfs.FileDescription, FDFlags) {
	if fd < 0 {
		return nil, FDFlags{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.descriptors[fd]
	if !ok || !d.file.TryIncRef() {
		return nil, FDFlags{}
	}
	return d.file, d.flags
}

// GetFDs returns a list of valid fds in ascending order.
func (f *FDTable) GetFDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collectLocked()
}

// Remove removes an FD from f. It returns the removed file, on which the
// caller holds the table's reference, or nil if fd was not in use.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Remove(fd int32) *vfs.FileDescription {
	if fd < 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	old, ok := f.setLocked(fd, nil, FDFlags{})
	if !ok {
		return nil
	}
	return old.file
}

// RemoveIf removes all FDs where cond is true.
func (f *FDTable) RemoveIf(ctx context.Context, cond func(*vfs.FileDescription, FDFlags) bool) {
	var removed []*vfs.FileDescription
	f.mu.Lock()
	for _, fd := range f.collectLocked() {
		d := f.descriptors[fd]
		if cond(d.file, d.flags) {
			f.setLocked(fd, nil, FDFlags{})
			removed = append(removed, d.file)
		}
	}
	f.mu.Unlock()

	// Release outside the lock: closing a pipe end wakes waiters.
	for _, file := range removed {
		file.DecRef(ctx)
	}
}

// RemoveAll removes every descriptor from f.
func (f *FDTable) RemoveAll(ctx context.Context) {
	f.RemoveIf(ctx, func(*vfs.FileDescription, FDFlags) bool {
		return true
	})
}

// Preconditions: f.mu must be locked.
func (f *FDTable) collectLocked() []int32 {
	fds := make([]int32, 0, f.used.Len())
	f.used.Ascend(func(fd int32) bool {
		fds = append(fds, fd)
		return true
	})
	return fds
}
