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

// Package auth implements the subset of Linux's access control model that
// file creation needs: user and group IDs carried by task credentials.
package auth

import (
	"context"
	"fmt"
)

// KUID is a user ID in the root user namespace.
type KUID uint32

// KGID is a group ID in the root user namespace.
type KGID uint32

const (
	// RootKUID is the KUID of the superuser.
	RootKUID = KUID(0)

	// RootKGID is the KGID of the superuser's group.
	RootKGID = KGID(0)

	// NoID is uint32(-1). -1 is consistently used as a special value, in Linux
	// and by extension in the auth package, to mean "no ID":
	NoID = ^uint32(0)
)

// Ok returns true if uid is not NoID.
func (uid KUID) Ok() bool {
	return uint32(uid) != NoID
}

// Ok returns true if gid is not NoID.
func (gid KGID) Ok() bool {
	return uint32(gid) != NoID
}

// Credentials contains information required to authorize privileged
// operations in a user namespace.
//
// Credentials are immutable once published; copy with Fork before mutating.
type Credentials struct {
	RealKUID      KUID
	EffectiveKUID KUID
	RealKGID      KGID
	EffectiveKGID KGID
}

// NewRootCredentials returns credentials with all IDs set to root.
func NewRootCredentials() *Credentials {
	return &Credentials{
		RealKUID:      RootKUID,
		EffectiveKUID: RootKUID,
		RealKGID:      RootKGID,
		EffectiveKGID: RootKGID,
	}
}

// NewUserCredentials returns credentials for the given user and group.
func NewUserCredentials(kuid KUID, kgid KGID) *Credentials {
	if !kuid.Ok() || !kgid.Ok() {
		panic(fmt.Sprintf("invalid credentials %d:%d", kuid, kgid))
	}
	return &Credentials{
		RealKUID:      kuid,
		EffectiveKUID: kuid,
		RealKGID:      kgid,
		EffectiveKGID: kgid,
	}
}

// Fork generates an identical copy of a set of credentials.
func (c *Credentials) Fork() *Credentials {
	nc := *c
	return &nc
}

// contextID is the auth package's type for context.Context.Value keys.
type contextID int

const (
	// CtxCredentials is a Context.Value key for Credentials.
	CtxCredentials contextID = iota
)

// CredentialsFromContext returns a copy of the Credentials used by ctx, or a
// set of Credentials with no capabilities if ctx does not have Credentials.
func CredentialsFromContext(ctx context.Context) *Credentials {
	if v := ctx.Value(CtxCredentials); v != nil {
		return v.(*Credentials)
	}
	return NewUserCredentials(KUID(65534), KGID(65534))
}
