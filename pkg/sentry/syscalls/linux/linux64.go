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

// Package linux provides syscall tables for amd64 and arm64 Linux.
package linux

import (
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/kernel"
)

// Lookup returns the implementation of syscall number sysno on the host
// architecture.
func Lookup(sysno uintptr) (kernel.Syscall, bool) {
	return Table.Lookup(sysno)
}

// Invoke runs syscall sysno on behalf of t.
func Invoke(t *kernel.Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	return t.Syscall(Table, sysno, args)
}
