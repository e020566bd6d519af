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

// Package linux contains the constants and types needed to interface with a
// Linux kernel.
package linux

import (
	"fmt"
	"strings"
)

// Constants for open(2).
const (
	O_ACCMODE = 000000003
	O_RDONLY  = 000000000
	O_WRONLY  = 000000001
	O_RDWR    = 000000002
	O_CREAT   = 000000100
	O_EXCL    = 000000200
	O_NOCTTY  = 000000400
	O_TRUNC   = 000001000
	O_APPEND  = 000002000
	O_CLOEXEC = 002000000
)

// Constants for lseek(2).
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// Standard descriptor numbers.
const (
	STDIN_FILENO  = 0
	STDOUT_FILENO = 1
	STDERR_FILENO = 2
)

// Limits.
const (
	// PATH_MAX is the maximum length of a path, including the terminating
	// NUL byte.
	PATH_MAX = 4096

	// OPEN_MAX is the default number of descriptor slots per table.
	OPEN_MAX = 128

	// MAX_RW_COUNT is the largest byte count a single read(2) or write(2)
	// transfers; larger requests are truncated.
	MAX_RW_COUNT = 0x7ffff000
)

// FileMode represents a mode_t.
type FileMode uint16

// Permission bits.
const (
	PermissionsMask = 0777

	ModeUserRead  = 0400
	ModeUserWrite = 0200
)

// Permissions returns just the permission bits of m.
func (m FileMode) Permissions() FileMode {
	return m & PermissionsMask
}

// String returns the octal representation of m.
func (m FileMode) String() string {
	return fmt.Sprintf("%#o", uint16(m))
}

var openFlagNames = []struct {
	flag uint32
	name string
}{
	{O_CREAT, "O_CREAT"},
	{O_EXCL, "O_EXCL"},
	{O_NOCTTY, "O_NOCTTY"},
	{O_TRUNC, "O_TRUNC"},
	{O_APPEND, "O_APPEND"},
	{O_CLOEXEC, "O_CLOEXEC"},
}

// OpenFlagsString formats open(2) flags the way strace does.
func OpenFlagsString(flags uint32) string {
	var parts []string
	switch flags & O_ACCMODE {
	case O_RDONLY:
		parts = append(parts, "O_RDONLY")
	case O_WRONLY:
		parts = append(parts, "O_WRONLY")
	case O_RDWR:
		parts = append(parts, "O_RDWR")
	default:
		parts = append(parts, fmt.Sprintf("O_ACCMODE(%d)", flags&O_ACCMODE))
	}
	rest := flags &^ O_ACCMODE
	for _, f := range openFlagNames {
		if rest&f.flag != 0 {
			parts = append(parts, f.name)
			rest &^= f.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#o", rest))
	}
	return strings.Join(parts, "|")
}

// ParseOpenFlags is the inverse of OpenFlagsString. Names may be separated by
// '|' or ','.
func ParseOpenFlags(s string) (uint32, error) {
	var flags uint32
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		switch part = strings.TrimSpace(part); part {
		case "O_RDONLY":
			flags |= O_RDONLY
		case "O_WRONLY":
			flags |= O_WRONLY
		case "O_RDWR":
			flags |= O_RDWR
		default:
			found := false
			for _, f := range openFlagNames {
				if f.name == part {
					flags |= f.flag
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("unknown open flag %q", part)
			}
		}
	}
	return flags, nil
}
