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

package vfs

import (
	"github.com/vsrinivas/fuchsia-sub100/pkg/abi/linux"
)

// OpenOptions contains options to VirtualFilesystem.OpenDentry() and
// Inode.Open().
type OpenOptions struct {
	// Flags contains access mode and flags as specified for open(2).
	Flags uint32

	// Mode is the file mode bits for a created file.
	Mode linux.FileMode
}

// ReadOptions contains options to FileDescription.PRead(),
// FileDescriptionImpl.PRead(), FileDescription.Read(), and
// FileDescriptionImpl.Read().
type ReadOptions struct {
	// Flags contains flags as specified for preadv2(2).
	Flags uint32
}

// WriteOptions contains options to FileDescription.PWrite(),
// FileDescriptionImpl.PWrite(), FileDescription.Write(), and
// FileDescriptionImpl.Write().
type WriteOptions struct {
	// Flags contains flags as specified for pwritev2(2).
	Flags uint32
}

// StatOptions contains options to FileDescription.Stat() and Inode.Stat().
type StatOptions struct {
	// Mask is the set of fields in the returned Statx that the caller
	// requests.
	Mask uint32
}

// WaitAsyncOptions contains options to FileDescription.WaitAsync().
type WaitAsyncOptions struct {
	// If EdgeTriggered is true, the handler only fires on a later
	// notification, even if the file is already ready.
	EdgeTriggered bool
}

// MayReadFileWithOpenFlags returns true if a file with the given open(2)
// flags should be readable.
func MayReadFileWithOpenFlags(flags uint32) bool {
	switch flags & linux.O_ACCMODE {
	case linux.O_RDONLY, linux.O_RDWR:
		return flags&linux.O_PATH == 0
	default:
		return false
	}
}

// MayWriteFileWithOpenFlags returns true if a file with the given open(2)
// flags should be writable.
func MayWriteFileWithOpenFlags(flags uint32) bool {
	switch flags & linux.O_ACCMODE {
	case linux.O_WRONLY, linux.O_RDWR:
		return flags&linux.O_PATH == 0
	default:
		return false
	}
}
