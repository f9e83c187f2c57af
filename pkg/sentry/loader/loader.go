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

// Package loader boots a kernel whose tasks can create pipes.
package loader

import (
	"fmt"

	"github.com/vsrinivas/fuchsia-sub100/pkg/cleanup"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/fsimpl/pipefs"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel/auth"
)

// Args configures a Loader.
type Args struct {
	// MaxFDs is the per-task descriptor limit. Zero selects
	// kernel.DefaultMaxFDs.
	MaxFDs int32

	// MemorySize is the size of each task's address space in bytes.
	MemorySize int

	// Credentials are given to new tasks. Nil means root.
	Credentials *auth.Credentials
}

// Loader keeps state needed to start the kernel and run tasks.
type Loader struct {
	// k is the kernel.
	k *kernel.Kernel

	args Args
}

// New initializes a new kernel with a mounted pipefs.
func New(ctx context.Context, args Args) (*Loader, error) {
	if args.MemorySize < 0 {
		return nil, fmt.Errorf("invalid memory size %d", args.MemorySize)
	}
	k := &kernel.Kernel{}
	if err := k.Init(ctx, kernel.InitKernelArgs{MaxFDs: args.MaxFDs}); err != nil {
		return nil, fmt.Errorf("error initializing kernel: %w", err)
	}

	cu := cleanup.Make(func() { k.Release(ctx) })
	defer cu.Clean()

	pipeFilesystem, err := pipefs.NewFilesystem(k.VFS())
	if err != nil {
		return nil, fmt.Errorf("failed to create pipefs filesystem: %w", err)
	}
	defer pipeFilesystem.DecRef(ctx)
	k.SetPipeMount(k.VFS().NewDisconnectedMount(pipeFilesystem, nil))
	cu.Release()

	ctx.Debugf("Kernel initialized: max FDs %d, memory %d bytes", k.MaxFDs(), args.MemorySize)
	return &Loader{k: k, args: args}, nil
}

// Kernel returns the loader's kernel.
func (l *Loader) Kernel() *kernel.Kernel {
	return l.k
}

// NewTask starts a task with a fresh descriptor table.
func (l *Loader) NewTask(ctx context.Context) (*kernel.Task, error) {
	return l.k.NewTask(ctx, kernel.TaskConfig{
		Credentials: l.args.Credentials,
		MemorySize:  l.args.MemorySize,
	})
}

// NewThread starts a task that shares t's descriptor table, as for
// clone(CLONE_FILES).
func (l *Loader) NewThread(ctx context.Context, t *kernel.Task) (*kernel.Task, error) {
	return l.k.NewTask(ctx, kernel.TaskConfig{
		Credentials: t.Credentials(),
		MemorySize:  l.args.MemorySize,
		FDTable:     t.FDTable(),
	})
}

// Destroy releases the kernel's resources. All tasks must have exited.
func (l *Loader) Destroy(ctx context.Context) {
	l.k.Release(ctx)
}
