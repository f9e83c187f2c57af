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

//go:build linux

package linux

import (
	"golang.org/x/sys/unix"

	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/syscalls"
)

// Table is the syscall table of Linux arm64, keyed by the host's syscall
// numbers. arm64 has no pipe, poll or dup2; libc implements them with pipe2,
// ppoll and dup3.
var Table = &kernel.SyscallTable{
	Table: map[uintptr]kernel.Syscall{
		unix.SYS_DUP:   syscalls.Supported("dup", Dup),
		unix.SYS_DUP3:  syscalls.Supported("dup3", Dup3),
		unix.SYS_FCNTL: syscalls.Supported("fcntl", Fcntl),
		unix.SYS_IOCTL: syscalls.Supported("ioctl", Ioctl),
		unix.SYS_CLOSE: syscalls.Supported("close", Close),
		unix.SYS_PIPE2: syscalls.Supported("pipe2", Pipe2),
		unix.SYS_READ:  syscalls.Supported("read", Read),
		unix.SYS_WRITE: syscalls.Supported("write", Write),
	},
}
