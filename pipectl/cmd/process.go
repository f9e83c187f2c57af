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

// Package cmd holds implementations of the pipectl commands.
package cmd

import (
	"context"
	"fmt"

	"github.com/vsrinivas/fuchsia-sub100/pipectl/config"
	"github.com/vsrinivas/fuchsia-sub100/pkg/cleanup"
	pkgcontext "github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/hostarch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/loader"
	slinux "github.com/vsrinivas/fuchsia-sub100/pkg/sentry/syscalls/linux"
)

// bufAddr is where commands stage syscall buffers in task memory.
const bufAddr hostarch.Addr = 0

// process is a kernel with a main task and any number of threads sharing its
// descriptor table.
type process struct {
	l       *loader.Loader
	main    *kernel.Task
	threads []*kernel.Task
}

func newProcess(stdCtx context.Context, conf *config.Config) (*process, error) {
	ctx := pkgcontext.Wrap(stdCtx)
	l, err := loader.New(ctx, loader.Args{
		MaxFDs:     int32(conf.MaxFDs),
		MemorySize: conf.MemorySize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating loader: %w", err)
	}
	cu := cleanup.Make(func() { l.Destroy(ctx) })
	defer cu.Clean()

	t, err := l.NewTask(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	cu.Release()
	return &process{l: l, main: t}, nil
}

func (p *process) newThread(stdCtx context.Context) (*kernel.Task, error) {
	ctx := pkgcontext.Wrap(stdCtx)
	t, err := p.l.NewThread(ctx, p.main)
	if err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}
	p.threads = append(p.threads, t)
	return t, nil
}

// destroy exits every task and releases the kernel.
func (p *process) destroy(stdCtx context.Context) {
	ctx := pkgcontext.Wrap(stdCtx)
	for _, t := range p.threads {
		t.Exit(ctx)
	}
	p.main.Exit(ctx)
	p.l.Destroy(ctx)
}

func call(t *kernel.Task, fn kernel.SyscallFn, args ...uintptr) (uintptr, error) {
	return fn(t, arch.Args(args...))
}

// pipe2 creates a pipe in t's descriptor table and returns its read and
// write ends.
func pipe2(t *kernel.Task, flags uintptr) (int32, int32, error) {
	if _, err := call(t, slinux.Pipe2, uintptr(bufAddr), flags); err != nil {
		return -1, -1, fmt.Errorf("pipe2: %w", err)
	}
	var fds [8]byte
	if _, err := t.CopyInBytes(bufAddr, fds[:]); err != nil {
		return -1, -1, fmt.Errorf("reading pipe2 result: %w", err)
	}
	return int32(hostarch.ByteOrder.Uint32(fds[0:])), int32(hostarch.ByteOrder.Uint32(fds[4:])), nil
}

func closeFD(t *kernel.Task, fd int32) {
	if _, err := call(t, slinux.Close, uintptr(fd)); err != nil {
		t.Warningf("close(%d): %v", fd, err)
	}
}
