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

package linux

import (
	"io"
	"time"

	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/log"
	"github.com/vsrinivas/fuchsia-sub100/pkg/metric"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/vfs"
)

var (
	partialResultMetric = metric.MustCreateNewUint64Metric("/syscalls/partial_result", "Number of partial results with an unexpected error.")
	partialResultLog    = log.BasicRateLimitedLogger(time.Minute)
)

// HandleIOError handles special error cases for partial results. For some
// errors, we may consume the error and return only the partial read/write.
//
// op and f are used only for logging.
func HandleIOError(t *kernel.Task, partialResult bool, err, intr error, op string, f *vfs.FileDescription) error {
	switch err {
	case nil:
		// Typical successful syscall.
		return nil
	case io.EOF:
		// EOF is always consumed. If this is a partial read/write
		// (result != 0), the application will see that, otherwise
		// they will see 0.
		return nil
	case linuxerr.ErrInterrupted:
		// The syscall was interrupted. Return nil if it completed
		// partially, otherwise return the error code that the syscall
		// needs (to indicate to the kernel what it should do).
		if partialResult {
			return nil
		}
		return intr
	}

	if !partialResult {
		// Typical syscall error. A pipe write that failed with EPIPE has
		// already raised SIGPIPE.
		return err
	}

	switch err {
	case linuxerr.EINTR:
		// Syscall interrupted, but completed a partial
		// read/write.  Like ErrWouldBlock, since we have a
		// partial read/write, we consume the error and return
		// the partial result.
		return nil
	case linuxerr.EFAULT:
		// EFAULT is only shown the user if nothing was
		// read/written. If we read something (this case), they see
		// a partial read/write. They will then presumably try again
		// with an incremented buffer, which will EFAULT with
		// result == 0.
		return nil
	case linuxerr.EPIPE:
		// Writes to a pipe will return EPIPE if the other side is
		// gone. The partial write is returned. EPIPE will be returned
		// on the next call.
		return nil
	case linuxerr.ErrWouldBlock:
		// Syscall would block, but completed a partial read/write.
		// This case should only be returned for nonblocking files.
		// Since we have a partial read/write, we consume
		// ErrWouldBlock, returning the partial result.
		return nil
	}

	// An unknown error is encountered with a partial read/write.
	partialResultLog.Warningf("Invalid request partialResult %v and err (type %T) %v for %s operation on %T", partialResult, err, err, op, f.Impl())
	partialResultMetric.Increment()
	return nil
}
