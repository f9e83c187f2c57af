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
	"time"

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/hostarch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/vfs"
	"github.com/vsrinivas/fuchsia-sub100/pkg/waiter"
)

// pollState tracks the associated file descriptor and waiter of a PollFD.
type pollState struct {
	file   *vfs.FileDescription
	waiter waiter.Entry
}

// initReadiness gets the current ready mask for the file represented by the FD
// stored in pfd.FD. If a channel is passed in, the waiter entry in "state" is
// used to register with the file for event notifications, and a reference to
// the file is stored in "state".
func initReadiness(t *kernel.Task, pfd *linux.PollFD, state *pollState, ch chan struct{}) error {
	if pfd.FD < 0 {
		pfd.REvents = 0
		return nil
	}

	file := t.GetFile(pfd.FD)
	if file == nil {
		pfd.REvents = linux.POLLNVAL
		return nil
	}

	if ch == nil {
		defer file.DecRef(t)
	} else {
		state.file = file
		state.waiter.Init(waiter.ChannelNotifier(ch), waiter.EventMaskFromLinux(uint32(pfd.Events)))
		if err := file.EventRegister(&state.waiter); err != nil {
			return err
		}
	}

	r := file.Readiness(waiter.EventMaskFromLinux(uint32(pfd.Events)))
	pfd.REvents = int16(r.ToLinux()) & pfd.Events
	return nil
}

// releaseState releases all the pollState in "state".
func releaseState(t *kernel.Task, state []pollState) {
	for i := range state {
		if state[i].file != nil {
			state[i].file.EventUnregister(&state[i].waiter)
			state[i].file.DecRef(t)
		}
	}
}

// pollBlock polls the PollFDs in "pfd" with a bounded time specified in
// "timeout" when "timeout" is greater than zero. A negative timeout waits
// forever.
func pollBlock(t *kernel.Task, pfd []linux.PollFD, timeout time.Duration) (uintptr, error) {
	var ch chan struct{}
	if timeout != 0 {
		ch = make(chan struct{}, 1)
	}

	// Register for event notification in the files involved if we may
	// block (timeout not zero). Once we find a file that has a non-zero
	// result, we stop registering for events but still go through all files
	// to get their ready masks.
	state := make([]pollState, len(pfd))
	defer releaseState(t, state)
	n := uintptr(0)
	for i := range pfd {
		if err := initReadiness(t, &pfd[i], &state[i], ch); err != nil {
			return 0, err
		}
		if pfd[i].REvents != 0 {
			n++
			ch = nil
		}
	}

	if timeout == 0 {
		return n, nil
	}

	haveDeadline := timeout > 0
	var deadline time.Time
	if haveDeadline {
		deadline = time.Now().Add(timeout)
	}

	for n == 0 {
		// Wait for a notification.
		if err := t.BlockWithDeadline(ch, haveDeadline, deadline); err != nil {
			if linuxerr.Equals(linuxerr.ETIMEDOUT, err) {
				err = nil
			}
			return 0, err
		}

		// We got notified, count how many files are ready. If none,
		// then this was a spurious notification, and we just go back
		// to sleep with the remaining timeout.
		for i := range state {
			if state[i].file == nil {
				continue
			}

			r := state[i].file.Readiness(waiter.EventMaskFromLinux(uint32(pfd[i].Events)))
			rl := int16(r.ToLinux()) & pfd[i].Events
			if rl != 0 {
				pfd[i].REvents = rl
				n++
			}
		}
	}

	return n, nil
}

// CopyInPollFDs copies an array of struct pollfd unless nfds exceeds the max.
func CopyInPollFDs(t *kernel.Task, addr hostarch.Addr, nfds uint) ([]linux.PollFD, error) {
	if uint64(nfds) > uint64(t.FDTable().Limit()) {
		return nil, linuxerr.EINVAL
	}

	pfd := make([]linux.PollFD, nfds)
	if nfds == 0 {
		return pfd, nil
	}
	buf := make([]byte, int(nfds)*linux.SizeOfPollFD)
	if _, err := t.CopyInBytes(addr, buf); err != nil {
		return nil, err
	}
	for i := range pfd {
		b := buf[i*linux.SizeOfPollFD:]
		pfd[i].FD = int32(hostarch.ByteOrder.Uint32(b[0:]))
		pfd[i].Events = int16(hostarch.ByteOrder.Uint16(b[4:]))
		pfd[i].REvents = int16(hostarch.ByteOrder.Uint16(b[6:]))
	}
	return pfd, nil
}

// copyOutPollFDs writes back pfd, revents included, to addr.
func copyOutPollFDs(t *kernel.Task, addr hostarch.Addr, pfd []linux.PollFD) error {
	buf := make([]byte, len(pfd)*linux.SizeOfPollFD)
	for i := range pfd {
		b := buf[i*linux.SizeOfPollFD:]
		hostarch.ByteOrder.PutUint32(b[0:], uint32(pfd[i].FD))
		hostarch.ByteOrder.PutUint16(b[4:], uint16(pfd[i].Events))
		hostarch.ByteOrder.PutUint16(b[6:], uint16(pfd[i].REvents))
	}
	_, err := t.CopyOutBytes(addr, buf)
	return err
}

func doPoll(t *kernel.Task, addr hostarch.Addr, nfds uint, timeout time.Duration) (uintptr, error) {
	pfd, err := CopyInPollFDs(t, addr, nfds)
	if err != nil {
		return 0, err
	}

	// Compatibility warning: Linux adds POLLHUP and POLLERR just before
	// polling, in fs/select.c:do_pollfd(). Since pfd is copied out after
	// polling, changing event masks here is an application-visible difference.
	// (Linux also doesn't copy out event masks at all, only revents.)
	for i := range pfd {
		pfd[i].Events |= linux.POLLHUP | linux.POLLERR
	}
	n, err := pollBlock(t, pfd, timeout)
	if err == linuxerr.ErrInterrupted {
		err = linuxerr.EINTR
	}

	// The poll entries are copied out regardless of whether
	// any are set or not. This aligns with the Linux behavior.
	if nfds > 0 && err == nil {
		if err := copyOutPollFDs(t, addr, pfd); err != nil {
			return 0, err
		}
	}

	return n, err
}

// Poll implements linux syscall poll(2).
func Poll(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	pfdAddr := args[0].Pointer()
	nfds := uint(args[1].Uint()) // poll(2) uses unsigned long.
	timeout := time.Duration(args[2].Int()) * time.Millisecond
	return doPoll(t, pfdAddr, nfds, timeout)
}
