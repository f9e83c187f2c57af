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

// Package context defines an internal context type.
//
// The given Context conforms to the standard Go context, but mandates
// additional methods that are specific to the kernel internals. Note however,
// that the Context described by this package carries additional constraints
// regarding concurrent access and retaining beyond the scope of a call.
//
// See the Context type for complete details.
package context

import (
	"context"
	"time"

	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/log"
)

// A Context represents a thread of execution (hereafter "goroutine" to reflect
// Go idiosyncrasy). It carries state associated with the goroutine across API
// boundaries.
//
// While Context exists for essentially the same reasons as Go's standard
// context.Context, the standard type represents the state of an operation
// rather than that of a goroutine. This is a critical distinction:
//
// - Unlike context.Context, which "may be passed to functions running in
// different goroutines", it is *not safe* to use the same Context in multiple
// concurrent goroutines.
//
// - It is *not safe* to retain a Context passed to a function beyond the scope
// of that function call.
//
// In both cases, values extracted from the Context should be used instead.
type Context interface {
	context.Context
	log.Logger
}

// Blocker represents an object with control flow hooks.
//
// These may be used to perform blocking operations, sleep or otherwise
// wait, since there may be asynchronous events that require processing.
type Blocker interface {
	// Interrupt interrupts any Block operations.
	Interrupt()

	// Interrupted notes whether this context is Interrupted.
	Interrupted() bool

	// BlockWithDeadline blocks until an event is received on C, the
	// deadline passes, or the blocker is interrupted. It returns nil if an
	// event was received, linuxerr.ETIMEDOUT if the deadline expired and
	// linuxerr.ErrInterrupted if interrupted.
	BlockWithDeadline(C <-chan struct{}, haveDeadline bool, deadline time.Time) error
}

type contextID int

// Globally accessible values from a context. These keys are defined in the
// context package to resolve dependency cycles by not requiring the caller to
// import packages usually required to get these information.
const (
	// CtxBlocker is the key for a Context's Blocker.
	CtxBlocker contextID = iota

	// CtxDeadline is the key for a deadline applied to blocking
	// operations, as a time.Time.
	CtxDeadline
)

// BlockerFromContext returns the Blocker carried by ctx. A context without one
// gets a blocker driven by ctx.Done().
func BlockerFromContext(ctx context.Context) Blocker {
	if v := ctx.Value(CtxBlocker); v != nil {
		return v.(Blocker)
	}
	return &doneBlocker{ctx: ctx, interrupt: make(chan struct{}, 1)}
}

// DeadlineFromContext returns the blocking deadline attached to ctx, if any.
func DeadlineFromContext(ctx context.Context) (time.Time, bool) {
	if v := ctx.Value(CtxDeadline); v != nil {
		return v.(time.Time), true
	}
	return ctx.Deadline()
}

// doneBlocker blocks on a standard context's Done channel.
type doneBlocker struct {
	ctx       context.Context
	interrupt chan struct{}
}

// Interrupt implements Blocker.Interrupt.
func (b *doneBlocker) Interrupt() {
	select {
	case b.interrupt <- struct{}{}:
	default:
	}
}

// Interrupted implements Blocker.Interrupted.
func (b *doneBlocker) Interrupted() bool {
	return b.ctx.Err() != nil || len(b.interrupt) != 0
}

// BlockWithDeadline implements Blocker.BlockWithDeadline.
func (b *doneBlocker) BlockWithDeadline(C <-chan struct{}, haveDeadline bool, deadline time.Time) error {
	var timeout <-chan time.Time
	if haveDeadline {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-C:
		return nil
	case <-timeout:
		return linuxerr.ETIMEDOUT
	case <-b.interrupt:
		return linuxerr.ErrInterrupted
	case <-b.ctx.Done():
		return linuxerr.ErrInterrupted
	}
}

type logContext struct {
	context.Context
	log.Logger
}

// WithValue returns a copy of parent in which the value associated with key is
// val.
func WithValue(parent Context, key, val any) Context {
	return &logContext{
		Context: context.WithValue(parent, key, val),
		Logger:  parent,
	}
}

// WithDeadline returns a copy of parent whose blocking operations time out at
// deadline.
func WithDeadline(parent Context, deadline time.Time) Context {
	return WithValue(parent, CtxDeadline, deadline)
}

// Wrap returns a Context backed by the standard context ctx, logging to the
// global logger.
func Wrap(ctx context.Context) Context {
	if c, ok := ctx.(Context); ok {
		return c
	}
	return &logContext{Context: ctx, Logger: log.Log()}
}

// bgContext is the context returned by context.Background.
var bgContext = &logContext{Context: context.Background(), Logger: log.Log()}

// Background returns an empty context using the default logger.
//
// Generally, one should use the Task as their context when available, or avoid
// having to use a context in places where a Task is unavailable.
//
// Using a Background context for tests is fine, as long as no values are
// needed from the context in the tested code paths.
func Background() Context {
	return bgContext
}
