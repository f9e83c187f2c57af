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

	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/log"
	"github.com/vsrinivas/fuchsia-sub100/pkg/metric"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
)

var unimplementedSyscalls = metric.MustCreateNewUint64Metric("/syscalls/unimplemented", "Number of calls to syscalls missing from the table.")

// SyscallFn is a syscall implementation.
type SyscallFn func(t *Task, args arch.SyscallArguments) (uintptr, error)

// Syscall includes the syscall implementation and its name.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation of the syscall.
	Fn SyscallFn
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Table is the collection of functions, keyed by syscall number.
	Table map[uintptr]Syscall
}

// Lookup returns the syscall implementation for sysno, if one exists.
func (s *SyscallTable) Lookup(sysno uintptr) (Syscall, bool) {
	sc, ok := s.Table[sysno]
	return sc, ok && sc.Fn != nil
}

// Syscall runs the system call sysno from st on behalf of t. Unknown
// syscalls fail with ENOSYS.
func (t *Task) Syscall(st *SyscallTable, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	sc, ok := st.Lookup(sysno)
	if !ok {
		unimplementedSyscalls.Increment()
		t.Debugf("Unimplemented syscall %d", sysno)
		return 0, linuxerr.ENOSYS
	}
	rval, err := sc.Fn(t, args)
	if t.IsLogging(log.Debug) {
		t.Debugf("%s", syscallString(sc.Name, args, rval, err))
	}
	return rval, err
}

func syscallString(name string, args arch.SyscallArguments, rval uintptr, err error) string {
	if err != nil {
		return fmt.Sprintf("%s(%s, %s, %s) = %d (%v)", name, args[0], args[1], args[2], int64(rval), err)
	}
	return fmt.Sprintf("%s(%s, %s, %s) = %d", name, args[0], args[1], args[2], int64(rval))
}
