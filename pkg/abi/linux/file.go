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
	"fmt"
	"strings"
)

// Constants for open(2).
const (
	O_ACCMODE  = 000000003
	O_RDONLY   = 000000000
	O_WRONLY   = 000000001
	O_RDWR     = 000000002
	O_CREAT    = 000000100
	O_EXCL     = 000000200
	O_NOCTTY   = 000000400
	O_TRUNC    = 000001000
	O_APPEND   = 000002000
	O_NONBLOCK = 000004000
	O_DSYNC    = 000010000
	O_ASYNC    = 000020000
	O_DIRECT   = 000040000
	O_NOATIME  = 001000000
	O_CLOEXEC  = 002000000
	O_PATH     = 010000000
)

// Values for linux.FileMode.
const (
	ModeTypeMask        = 0170000
	ModeSocket          = 0140000
	ModeSymlink         = 0120000
	ModeRegular         = 0100000
	ModeBlockDevice     = 060000
	ModeDirectory       = 040000
	ModeCharacterDevice = 020000
	ModeNamedPipe       = 010000

	PermissionsMask = 0777
)

// Aliases for the file type bits of linux.FileMode.
const (
	S_IFMT   = ModeTypeMask
	S_IFSOCK = ModeSocket
	S_IFLNK  = ModeSymlink
	S_IFREG  = ModeRegular
	S_IFBLK  = ModeBlockDevice
	S_IFDIR  = ModeDirectory
	S_IFCHR  = ModeCharacterDevice
	S_IFIFO  = ModeNamedPipe
)

// FileMode represents a mode_t.
type FileMode uint16

// Permissions returns just the permission bits.
func (m FileMode) Permissions() FileMode {
	return m & PermissionsMask
}

// FileType returns just the file type bits.
func (m FileMode) FileType() FileMode {
	return m & ModeTypeMask
}

// IsFIFO returns true if m describes a named or anonymous pipe.
func (m FileMode) IsFIFO() bool {
	return m.FileType() == ModeNamedPipe
}

var fileTypeNames = map[FileMode]string{
	ModeSocket:          "S_IFSOCK",
	ModeSymlink:         "S_IFLNK",
	ModeRegular:         "S_IFREG",
	ModeBlockDevice:     "S_IFBLK",
	ModeDirectory:       "S_IFDIR",
	ModeCharacterDevice: "S_IFCHR",
	ModeNamedPipe:       "S_IFIFO",
}

// String returns a string representation of m, e.g. "S_IFIFO|0600".
func (m FileMode) String() string {
	var s []string
	if name, ok := fileTypeNames[m.FileType()]; ok {
		s = append(s, name)
	} else if ft := m.FileType(); ft != 0 {
		s = append(s, fmt.Sprintf("%#o", uint16(ft)))
	}
	s = append(s, fmt.Sprintf("0%o", uint16(m.Permissions())))
	return strings.Join(s, "|")
}

// Statx is a subset of struct statx, from uapi/linux/stat.h, carrying the
// fields that pseudo-filesystems report.
type Statx struct {
	Mask     uint32
	Blksize  uint32
	Nlink    uint32
	UID      uint32
	GID      uint32
	Mode     uint16
	Ino      uint64
	Size     uint64
	Blocks   uint64
	Ctime    int64
	DevMajor uint32
	DevMinor uint32
}

// Bitmasks for Statx.Mask.
const (
	STATX_TYPE   = 0x00000001
	STATX_MODE   = 0x00000002
	STATX_NLINK  = 0x00000004
	STATX_UID    = 0x00000008
	STATX_GID    = 0x00000010
	STATX_CTIME  = 0x00000080
	STATX_INO    = 0x00000100
	STATX_SIZE   = 0x00000200
	STATX_BLOCKS = 0x00000400
)
