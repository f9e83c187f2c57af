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
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/waiter"
)

// IOResult is the outcome of one attempt of a BlockingIO operation.
type IOResult struct {
	n    int64
	done bool
}

// Done reports that an attempt transferred n bytes and the operation is
// complete.
func Done(n int64) IOResult {
	return IOResult{n: n, done: true}
}

// Partial reports that an attempt transferred n bytes and the operation
// should continue.
func Partial(n int64) IOResult {
	return IOResult{n: n}
}

// BlockingIO runs op until it reports Done or fails, and returns the total
// number of bytes transferred.
//
// An attempt that returns linuxerr.ErrWouldBlock waits for an event in mask
// on w before the next attempt; any other Partial result is retried at once.
// If nonblocking is true, the operation stops instead of waiting, returning
// ErrWouldBlock only if nothing was transferred. Waits respect the deadline
// carried by ctx (expiry is reported as ErrWouldBlock) and end early if the
// context's blocker is interrupted (reported as ErrInterrupted). Once bytes
// have been transferred, waiting errors are dropped in favour of the count.
func BlockingIO(ctx context.Context, w waiter.Waitable, mask waiter.EventMask, nonblocking bool, op func() (IOResult, error)) (int64, error) {
	var (
		total      int64
		registered bool
		e          waiter.Entry
		ch         chan struct{}
	)
	defer func() {
		if registered {
			w.EventUnregister(&e)
		}
	}()

	for {
		res, err := op()
		total += res.n
		if err != linuxerr.ErrWouldBlock {
			if err == nil && !res.done {
				continue
			}
			return total, err
		}
		if nonblocking {
			return waitResult(total, err)
		}

		if !registered {
			// Register, then retry once before sleeping so that an event
			// between the failed attempt and registration is not lost.
			e, ch = waiter.NewChannelEntry(mask)
			if err := w.EventRegister(&e); err != nil {
				return waitResult(total, err)
			}
			registered = true
			continue
		}

		deadline, haveDeadline := context.DeadlineFromContext(ctx)
		if err := context.BlockerFromContext(ctx).BlockWithDeadline(ch, haveDeadline, deadline); err != nil {
			if linuxerr.Equals(linuxerr.ETIMEDOUT, err) {
				err = linuxerr.ErrWouldBlock
			}
			return waitResult(total, err)
		}
	}
}

// waitResult drops err in favour of a non-zero transfer count.
func waitResult(total int64, err error) (int64, error) {
	if total > 0 {
		return total, nil
	}
	return 0, err
}
