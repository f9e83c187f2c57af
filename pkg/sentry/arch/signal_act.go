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

package arch

import (
	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
)

// Special values for SignalAct.Handler.
const (
	// SignalActDefault is SIG_DFL and specifies that the default behavior for
	// a signal should be taken.
	SignalActDefault = linux.SIG_DFL

	// SignalActIgnore is SIG_IGN and specifies that a signal should be
	// ignored.
	SignalActIgnore = linux.SIG_IGN
)

// Available signal flags.
const (
	SignalFlagSigInfo      = 0x00000004
	SignalFlagRestart      = 0x10000000
	SignalFlagResetHandler = 0x80000000
)

// SignalAct represents the action that should be taken when a signal is
// delivered, and is equivalent to struct sigaction.
type SignalAct struct {
	Handler uint64
	Flags   uint64
	Mask    linux.SignalSet
}

// IsSigInfo returns true iff this handle expects siginfo.
func (s SignalAct) IsSigInfo() bool {
	return s.Flags&SignalFlagSigInfo != 0
}

// IsRestart returns true iff this SignalAct has the Restart flag set.
func (s SignalAct) IsRestart() bool {
	return s.Flags&SignalFlagRestart != 0
}

// IsResetHandler returns true iff this SignalAct has the ResetHandler flag set.
func (s SignalAct) IsResetHandler() bool {
	return s.Flags&SignalFlagResetHandler != 0
}

// IsDefault returns true iff this SignalAct takes the default action.
func (s SignalAct) IsDefault() bool {
	return s.Handler == SignalActDefault
}

// IsIgnored returns true iff this SignalAct discards the signal.
func (s SignalAct) IsIgnored() bool {
	return s.Handler == SignalActIgnore
}
