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

// Filesystem types used in statfs(2).
//
// See linux/magic.h.
const (
	PIPEFS_MAGIC = 0x50495045
)

// UNNAMED_MAJOR is the major device number for "unnamed" devices, whose minor
// numbers are dynamically allocated by the kernel.
const UNNAMED_MAJOR = 0

// PIPE_BUF is the maximum number of bytes that a pipe guarantees to write
// atomically, from uapi/linux/limits.h.
const PIPE_BUF = 4096
