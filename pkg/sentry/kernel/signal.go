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

	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
	"github.com/vsrinivas/fuchsia-sub100/pkg/errors/linuxerr"
	"github.com/vsrinivas/fuchsia-sub100/pkg/sentry/arch"
)

// SignalInfo is the subset of siginfo_t the runtime records for a queued
// signal.
type SignalInfo struct {
	// Signo is the signal number.
	Signo int32

	// Code is the si_code value.
	Code int32

	// PID is the sender's thread ID for SI_USER signals.
	PID int32
}

// String implements fmt.Stringer.
func (i *SignalInfo) String() string {
	return fmt.Sprintf("{Signo: %v, Code: %#x, PID: %d}", linux.Signal(i.Signo), i.Code, i.PID)
}

// SignalInfoPriv returns a SignalInfo equivalent to Linux's SEND_SIG_PRIV.
func SignalInfoPriv(sig linux.Signal) *SignalInfo {
	return &SignalInfo{
		Signo: int32(sig),
		Code:  linux.SI_KERNEL,
	}
}

// SignalInfoNoInfo returns a SignalInfo equivalent to Linux's SEND_SIG_NOINFO.
func SignalInfoNoInfo(sig linux.Signal, sender *Task) *SignalInfo {
	return &SignalInfo{
		Signo: int32(sig),
		Code:  linux.SI_USER,
		PID:   int32(sender.tid),
	}
}

// defaultAction is the action taken for a signal with SIG_DFL disposition.
type defaultAction int

const (
	actionTerminate defaultAction = iota
	actionIgnore
)

// defaultActionFor returns the default action for sig. Job control is not
// modeled, so stop and continue signals are ignored.
func defaultActionFor(sig linux.Signal) defaultAction {
	switch sig {
	case linux.SIGCHLD, linux.SIGURG, linux.SIGWINCH, linux.SIGCONT,
		linux.SIGSTOP, linux.SIGTSTP, linux.SIGTTIN, linux.SIGTTOU:
		return actionIgnore
	default:
		return actionTerminate
	}
}

// SignalAction returns the disposition of sig.
func (t *Task) SignalAction(sig linux.Signal) arch.SignalAct {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signalActions[sig.Index()]
}

// SetSignalAction sets the disposition of sig, as for rt_sigaction(2), and
// returns the previous one. Setting a signal to be ignored discards any
// pending instance of it.
func (t *Task) SetSignalAction(sig linux.Signal, act arch.SignalAct) (arch.SignalAct, error) {
	if !sig.IsValid() {
		return arch.SignalAct{}, linuxerr.EINVAL
	}
	if sig == linux.SIGKILL || sig == linux.SIGSTOP {
		return arch.SignalAct{}, linuxerr.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.signalActions[sig.Index()]
	t.signalActions[sig.Index()] = act
	if t.isIgnoredLocked(sig) {
		t.discardLocked(sig)
	}
	return old, nil
}

// Preconditions: t.mu must be locked.
func (t *Task) isIgnoredLocked(sig linux.Signal) bool {
	act := t.signalActions[sig.Index()]
	if act.IsIgnored() {
		return true
	}
	return act.IsDefault() && defaultActionFor(sig) == actionIgnore
}

// Preconditions: t.mu must be locked.
func (t *Task) discardLocked(sig linux.Signal) {
	t.pendingSignals &^= linux.SignalSetOf(sig)
	t.pendingInfo[sig.Index()] = nil
}

// SendSignal sends the given signal to t.
//
// Ignored signals are discarded. A signal whose default action terminates the
// task kills it. Any other signal is queued until dequeued by the task. In the
// latter two cases t is interrupted, so a blocking operation in progress
// returns early.
func (t *Task) SendSignal(info *SignalInfo) error {
	sig := linux.Signal(info.Signo)
	if sig == 0 {
		return nil
	}
	if !sig.IsValid() {
		return linuxerr.EINVAL
	}

	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		return linuxerr.ESRCH
	}
	if sig != linux.SIGKILL && t.isIgnoredLocked(sig) {
		t.mu.Unlock()
		t.Debugf("Discarding ignored signal %v", sig)
		return nil
	}
	act := t.signalActions[sig.Index()]
	if sig == linux.SIGKILL || act.IsDefault() {
		if t.killedBy == 0 {
			t.killedBy = sig
		}
		t.mu.Unlock()
		t.Debugf("Killed by %v", sig)
		t.Interrupt()
		return nil
	}
	if t.pendingSignals&linux.SignalSetOf(sig) == 0 || !sig.IsStandard() {
		t.pendingInfo[sig.Index()] = info
	}
	t.pendingSignals |= linux.SignalSetOf(sig)
	t.mu.Unlock()
	t.Debugf("Queued signal %v", info)
	t.Interrupt()
	return nil
}

// PendingSignals returns the set of queued signals.
func (t *Task) PendingSignals() linux.SignalSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingSignals
}

// DequeueSignal removes and returns the lowest-numbered queued signal, or nil
// if there is none.
func (t *Task) DequeueSignal() *SignalInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < linux.SignalMaximum; i++ {
		sig := linux.Signal(i + 1)
		if t.pendingSignals&linux.SignalSetOf(sig) == 0 {
			continue
		}
		info := t.pendingInfo[i]
		t.discardLocked(sig)
		if t.pendingSignals == 0 && t.killedBy == 0 {
			// Nothing left to interrupt for.
			select {
			case <-t.interruptChan:
			default:
			}
		}
		return info
	}
	return nil
}

// Killed returns the signal that killed t, if any.
func (t *Task) Killed() (linux.Signal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killedBy, t.killedBy != 0
}
