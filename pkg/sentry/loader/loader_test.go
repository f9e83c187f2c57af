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

package loader

import (
	"testing"

	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/fsimpl/pipefs"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, Args{MemorySize: 4096})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Destroy(ctx)

	k := l.Kernel()
	if k.MaxFDs() != kernel.DefaultMaxFDs {
		t.Errorf("MaxFDs: got %d, wanted %d", k.MaxFDs(), kernel.DefaultMaxFDs)
	}
	mnt := k.PipeMount()
	if mnt == nil {
		t.Fatalf("PipeMount is nil")
	}
	if got := mnt.Filesystem().FilesystemType(); got != pipefs.Name {
		t.Errorf("pipe mount filesystem: got %q, wanted %q", got, pipefs.Name)
	}

	task, err := l.NewTask(ctx)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	defer task.Exit(ctx)
	thread, err := l.NewThread(ctx, task)
	if err != nil {
		t.Fatalf("NewThread: %v", err)
	}
	defer thread.Exit(ctx)
	if thread.FDTable() != task.FDTable() {
		t.Errorf("NewThread did not share the descriptor table")
	}
	other, err := l.NewTask(ctx)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	defer other.Exit(ctx)
	if other.FDTable() == task.FDTable() {
		t.Errorf("NewTask shared a descriptor table")
	}

	r, w, err := pipefs.NewConnectedPipeFDs(task, mnt, 0)
	if err != nil {
		t.Fatalf("NewConnectedPipeFDs: %v", err)
	}
	r.DecRef(ctx)
	w.DecRef(ctx)
}

func TestNewInvalid(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Args{MaxFDs: -1}); err == nil {
		t.Errorf("New with negative MaxFDs succeeded")
	}
	if _, err := New(ctx, Args{MemorySize: -1}); err == nil {
		t.Errorf("New with negative MemorySize succeeded")
	}
}
