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

// Package kernel provides the process model the pipe implementation runs
// under: a Kernel owning the virtual filesystem and the pipe mount, Tasks that
// block, receive signals and own a file descriptor table.
package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel/auth"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/vfs"
)

// DefaultMaxFDs is the descriptor table limit used when InitKernelArgs does
// not set one, matching the common RLIMIT_NOFILE soft limit.
const DefaultMaxFDs = 1024

// ThreadID is a task identifier.
type ThreadID int32

// Kernel represents an emulated Linux kernel. It must be initialized by calling
// Init.
type Kernel struct {
	vfs vfs.VirtualFilesystem

	// pipeMount is the Mount used for anonymous pipes. It is set by the
	// loader, since the pipe filesystem depends on this package.
	pipeMount *vfs.Mount

	// maxFDs bounds every FDTable created by NewTask.
	maxFDs int32

	// fdMapUids is used to generate unique FDTable IDs.
	fdMapUids atomic.Uint64

	// tasksMu protects the fields below.
	tasksMu sync.Mutex
	nextTID ThreadID
	tasks   map[ThreadID]*Task
}

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// MaxFDs is the per-task descriptor limit. Zero selects DefaultMaxFDs.
	MaxFDs int32
}

// Init initialize the Kernel with no tasks.
func (k *Kernel) Init(ctx context.Context, args InitKernelArgs) error {
	if args.MaxFDs < 0 {
		return fmt.Errorf("invalid descriptor limit %d", args.MaxFDs)
	}
	k.maxFDs = args.MaxFDs
	if k.maxFDs == 0 {
		k.maxFDs = DefaultMaxFDs
	}
	if err := k.vfs.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize VFS: %w", err)
	}
	k.nextTID = 1
	k.tasks = make(map[ThreadID]*Task)
	return nil
}

// VFS returns the virtual filesystem for the kernel.
func (k *Kernel) VFS() *vfs.VirtualFilesystem {
	return &k.vfs
}

// PipeMount returns the pipefs mount.
func (k *Kernel) PipeMount() *vfs.Mount {
	return k.pipeMount
}

// SetPipeMount installs the mount used for anonymous pipes. k takes ownership
// of the caller's reference on mnt.
func (k *Kernel) SetPipeMount(mnt *vfs.Mount) {
	k.pipeMount = mnt
}

// MaxFDs returns the per-task descriptor limit.
func (k *Kernel) MaxFDs() int32 {
	return k.maxFDs
}

// TaskConfig defines the configuration of a new Task.
type TaskConfig struct {
	// Credentials is the Credentials of the new task. Nil means root.
	Credentials *auth.Credentials

	// MemorySize is the size of the task's flat address space in bytes.
	MemorySize int

	// FDTable is the descriptor table of the new task. Nil creates an empty
	// table; otherwise the task shares it.
	FDTable *FDTable
}

// NewTask creates a new task.
func (k *Kernel) NewTask(ctx context.Context, cfg TaskConfig) (*Task, error) {
	if cfg.MemorySize < 0 {
		return nil, linuxerr.EINVAL
	}
	creds := cfg.Credentials
	if creds == nil {
		creds = auth.NewRootCredentials()
	}
	fdTable := cfg.FDTable
	if fdTable == nil {
		fdTable = k.NewFDTable()
	} else {
		fdTable.IncRef()
	}

	k.tasksMu.Lock()
	defer k.tasksMu.Unlock()
	if k.tasks == nil {
		return nil, fmt.Errorf("kernel is not initialized")
	}
	t := newTask(k, k.nextTID, creds, make([]byte, cfg.MemorySize), fdTable)
	k.tasks[t.tid] = t
	k.nextTID++
	ctx.Debugf("Created task %d", t.tid)
	return t, nil
}

// TaskWithID returns the task with thread ID tid, or nil.
func (k *Kernel) TaskWithID(tid ThreadID) *Task {
	k.tasksMu.Lock()
	defer k.tasksMu.Unlock()
	return k.tasks[tid]
}

// removeTask forgets t once it has exited.
func (k *Kernel) removeTask(t *Task) {
	k.tasksMu.Lock()
	defer k.tasksMu.Unlock()
	delete(k.tasks, t.tid)
}

// Release drops the kernel's references on its mounts. All tasks must have
// exited.
func (k *Kernel) Release(ctx context.Context) {
	if k.pipeMount != nil {
		k.pipeMount.DecRef(ctx)
		k.pipeMount = nil
	}
}
