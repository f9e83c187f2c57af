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
	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	"github.com/vsrinivas/fuchsia-sub100/pkg/usermem"
)

// Ioctl implements Linux syscall ioctl(2).
func Ioctl(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	defer file.DecRef(t)

	// Handle ioctls that apply to all FDs.
	switch args[1].Uint() {
	case linux.FIONCLEX:
		return 0, t.FDTable().SetFlags(t, fd, kernel.FDFlags{
			CloseOnExec: false,
		})

	case linux.FIOCLEX:
		return 0, t.FDTable().SetFlags(t, fd, kernel.FDFlags{
			CloseOnExec: true,
		})

	case linux.FIONBIO:
		set, err := usermem.CopyInt32In(t, t.MemoryManager(), args[2].Pointer(), usermem.IOOpts{})
		if err != nil {
			return 0, err
		}
		flags := file.StatusFlags()
		if set != 0 {
			flags |= linux.O_NONBLOCK
		} else {
			flags &^= linux.O_NONBLOCK
		}
		return 0, file.SetStatusFlags(t, flags)
	}

	return file.Ioctl(t, t.MemoryManager(), args)
}
