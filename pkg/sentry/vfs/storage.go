// Copyright 2026 The gVisor Authors.
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
	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/context"
)

// Storage is a flat namespace of objects that can be opened by path. It is
// the collaborator beneath every FileDescription; the open-file layer never
// interprets paths beyond passing them through.
//
// Implementations return errors from package linuxerr (ENOENT, EEXIST,
// EACCES, ...). Any other error is reported to callers as EIO.
type Storage interface {
	// Open opens the object named by path. opts.Flags carries the open(2)
	// flags; Storage is responsible for O_CREAT, O_EXCL and O_TRUNC and for
	// checking opts.Flags' access mode against the object's permissions.
	Open(ctx context.Context, path string, opts OpenOptions) (Handle, error)
}

// Handle is an open object returned by Storage.Open. A Handle is owned by
// exactly one FileDescription, which calls Release once.
//
// PRead and PWrite may be called concurrently on the same Handle.
type Handle interface {
	// PRead reads into dst starting at off. It returns the number of bytes
	// read; at end of file it returns io.EOF with a short count.
	PRead(ctx context.Context, dst []byte, off int64) (int64, error)

	// PWrite writes src starting at off. A short count is accompanied by an
	// error.
	PWrite(ctx context.Context, src []byte, off int64) (int64, error)

	// Append writes src at the end of the object. Finding the end and
	// writing are one step with respect to other writers of the object. It
	// returns the number of bytes written and the offset just past them.
	Append(ctx context.Context, src []byte) (n, end int64, err error)

	// Size returns the current size of the object.
	Size(ctx context.Context) (int64, error)

	// Release releases resources held by the handle.
	Release(ctx context.Context)
}

// OpenOptions contains options to Storage.Open and Open.
type OpenOptions struct {
	// Flags contains access mode and flags as specified for open(2).
	Flags uint32

	// Mode is the permission bits of a file created by O_CREAT. Ignored
	// otherwise.
	Mode linux.FileMode
}

// FileCreationFlags are flags that only affect how the object is opened and
// are not retained by the FileDescription.
const FileCreationFlags = linux.O_CREAT | linux.O_EXCL | linux.O_NOCTTY | linux.O_TRUNC

// SupportedOpenFlags is the set of flags accepted by Open. O_CLOEXEC is
// accepted and ignored since nothing here execs.
const SupportedOpenFlags = linux.O_ACCMODE | FileCreationFlags | linux.O_APPEND | linux.O_CLOEXEC

// AccessTypes is a bitmask of Unix file permissions.
type AccessTypes uint16

// Bits in AccessTypes.
const (
	MayWrite AccessTypes = 2
	MayRead  AccessTypes = 4
)

// MayRead returns true if ats includes MayRead.
func (a AccessTypes) MayRead() bool {
	return a&MayRead != 0
}

// MayWrite returns true if ats includes MayWrite.
func (a AccessTypes) MayWrite() bool {
	return a&MayWrite != 0
}

// AccessTypesForOpenFlags returns the access types required to open a file
// with the given OpenOptions.Flags. As on Linux, O_TRUNC requires write
// permission even when the file is opened read-only.
func AccessTypesForOpenFlags(opts *OpenOptions) AccessTypes {
	ats := AccessTypes(0)
	if opts.Flags&linux.O_TRUNC != 0 {
		ats |= MayWrite
	}
	switch opts.Flags & linux.O_ACCMODE {
	case linux.O_RDONLY:
		return ats | MayRead
	case linux.O_WRONLY:
		return ats | MayWrite
	default:
		// O_RDWR or O_ACCMODE, the latter rejected by ValidateOpenFlags.
		return ats | MayRead | MayWrite
	}
}

// MayReadFileWithOpenFlags returns true if a file with the given open(2) flags
// should be readable.
func MayReadFileWithOpenFlags(flags uint32) bool {
	switch flags & linux.O_ACCMODE {
	case linux.O_RDONLY, linux.O_RDWR:
		return true
	default:
		return false
	}
}

// MayWriteFileWithOpenFlags returns true if a file with the given open(2)
// flags should be writable.
func MayWriteFileWithOpenFlags(flags uint32) bool {
	switch flags & linux.O_ACCMODE {
	case linux.O_WRONLY, linux.O_RDWR:
		return true
	default:
		return false
	}
}
