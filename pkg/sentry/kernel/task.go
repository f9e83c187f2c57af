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
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/context"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/hostarch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/log"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel/auth"
	"github.com/vsrinivas/fuchsia-sub100/pkg/usermem"
)

// Task represents a thread of execution in the untrusted app. Tasks run
// system calls through the syscalls package with the Task as the calling
// context; they block through Task.BlockWithDeadline, so a signal delivered to
// the Task interrupts whatever it is waiting for.
type Task struct {
	k   *Kernel
	tid ThreadID

	// creds is the task's credentials.
	creds atomic.Pointer[auth.Credentials]

	// mem is the task's address space: a flat byte array whose addresses
	// are offsets.
	mem *usermem.BytesIO

	// fdTable is the task's file descriptor table. It is immutable.
	fdTable *FDTable

	// logPrefix is prepended to log messages emitted on behalf of the task.
	logPrefix string

	// interruptChan is notified whenever the task goroutine is interrupted
	// (usually by a pending signal).
	interruptChan chan struct{}

	// mu protects the signal state below and exited.
	mu sync.Mutex

	// signalActions holds the disposition of each signal, indexed by
	// Signal.Index.
	signalActions [linux.SignalMaximum]arch.SignalAct

	// pendingSignals is the set of signals queued for delivery. Standard
	// signals coalesce, so pendingInfo keeps one SignalInfo per signal.
	pendingSignals linux.SignalSet
	pendingInfo    [linux.SignalMaximum]*SignalInfo

	// killedBy is the signal whose default action terminated the task, or 0.
	killedBy linux.Signal

	exited bool
}

func newTask(k *Kernel, tid ThreadID, creds *auth.Credentials, mem []byte, fdTable *FDTable) *Task {
	t := &Task{
		k:             k,
		tid:           tid,
		mem:           &usermem.BytesIO{Bytes: mem},
		fdTable:       fdTable,
		logPrefix:     fmt.Sprintf("[%4d] ", tid),
		interruptChan: make(chan struct{}, 1),
	}
	t.creds.Store(creds)
	return t
}

// Kernel returns the Kernel containing t.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// ThreadID returns t's thread ID.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// Credentials returns t's credentials.
//
// This value must be considered immutable.
func (t *Task) Credentials() *auth.Credentials {
	return t.creds.Load()
}

// FDTable returns t's FDTable. FDTable does not take an additional reference
// on the returned FDTable.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// MemoryManager returns t's address space.
func (t *Task) MemoryManager() usermem.IO {
	return t.mem
}

// SingleIOSequence returns a usermem.IOSequence representing [addr,
// addr+length) in t's address space. If this contains addresses outside the
// address space, it returns EFAULT.
func (t *Task) SingleIOSequence(addr hostarch.Addr, length int, opts usermem.IOOpts) (usermem.IOSequence, error) {
	if length < 0 {
		return usermem.IOSequence{}, linuxerr.EINVAL
	}
	ar, ok := addr.ToRange(uint64(length))
	if !ok || ar.End > hostarch.Addr(len(t.mem.Bytes)) {
		return usermem.IOSequence{}, linuxerr.EFAULT
	}
	return usermem.IOSequence{
		IO:    t.mem,
		Addrs: ar,
		Opts:  opts,
	}, nil
}

// CopyInBytes copies len(dst) bytes from t's address space at addr into dst.
func (t *Task) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return t.mem.CopyIn(t, addr, dst, usermem.IOOpts{})
}

// CopyOutBytes copies src into t's address space at addr.
func (t *Task) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return t.mem.CopyOut(t, addr, src, usermem.IOOpts{})
}

// Exit releases the task's resources. It is idempotent.
func (t *Task) Exit(ctx context.Context) {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		return
	}
	t.exited = true
	t.mu.Unlock()

	t.fdTable.DecRef(ctx)
	t.k.removeTask(t)
	t.Debugf("Task exited")
}

// Deadline implements context.Context.Deadline.
func (*Task) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

// Done implements context.Context.Done.
func (*Task) Done() <-chan struct{} {
	return nil
}

// Err implements context.Context.Err.
func (*Task) Err() error {
	return nil
}

// Value implements context.Context.Value.
func (t *Task) Value(key any) any {
	switch key {
	case context.CtxBlocker:
		return t
	case CtxKernel:
		return t.k
	case CtxTask:
		return t
	case auth.CtxCredentials:
		return t.Credentials()
	default:
		return nil
	}
}

// Debugf emits a debug log message prefixed with the task's thread ID.
func (t *Task) Debugf(fmt string, v ...any) {
	log.Log().DebugfAtDepth(1, t.logPrefix+fmt, v...)
}

// Infof emits an info log message prefixed with the task's thread ID.
func (t *Task) Infof(fmt string, v ...any) {
	log.Log().InfofAtDepth(1, t.logPrefix+fmt, v...)
}

// Warningf emits a warning log message prefixed with the task's thread ID.
func (t *Task) Warningf(fmt string, v ...any) {
	log.Log().WarningfAtDepth(1, t.logPrefix+fmt, v...)
}

// IsLogging implements log.Logger.IsLogging.
func (t *Task) IsLogging(level log.Level) bool {
	return log.IsLogging(level)
}

// Interrupt implements context.Blocker.Interrupt.
func (t *Task) Interrupt() {
	select {
	case t.interruptChan <- struct{}{}:
	default:
	}
}

// Interrupted implements context.Blocker.Interrupted. A task is interrupted
// while it has a deliverable signal pending or has been killed.
func (t *Task) Interrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingSignals != 0 || t.killedBy != 0
}

// BlockWithDeadline implements context.Blocker.BlockWithDeadline.
func (t *Task) BlockWithDeadline(C <-chan struct{}, haveDeadline bool, deadline time.Time) error {
	if t.Interrupted() {
		return linuxerr.ErrInterrupted
	}
	var timeout <-chan time.Time
	if haveDeadline {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-C:
		return nil
	case <-t.interruptChan:
		return linuxerr.ErrInterrupted
	case <-timeout:
		return linuxerr.ETIMEDOUT
	}
}

// Block blocks until an event is received on C or the task is interrupted.
func (t *Task) Block(C <-chan struct{}) error {
	return t.BlockWithDeadline(C, false, time.Time{})
}
