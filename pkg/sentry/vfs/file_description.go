// Copyright 2019 The gVisor Authors.
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

// Package vfs provides the open file description type shared by file
// descriptor tables, along with the Storage interface that backs it.
package vfs

import (
	"fmt"
	"io"
	"sync"

	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/log"
	"gvisor.dev/fdcore/pkg/refs"
)

// A FileDescription represents an open file description, which is the entity
// referred to by a file descriptor (POSIX.1-2017 3.258 "Open File
// Description").
//
// FileDescriptions are reference-counted. Unless otherwise specified, all
// FileDescription methods require that a reference is held.
//
// FileDescription is analogous to Linux's struct file.
type FileDescription struct {
	refs.Refs[FileDescription]

	// handle is the storage object. It is released when the last reference
	// is dropped. handle is immutable.
	handle Handle

	// name is the path the file was opened with. name is immutable.
	name string

	// statusFlags contains the flags passed to open(2), minus
	// FileCreationFlags. statusFlags is immutable.
	statusFlags uint32

	// opts is immutable.
	opts FileDescriptionOptions

	// readable is MayReadFileWithOpenFlags(statusFlags). readable is
	// immutable.
	//
	// readable is analogous to Linux's FMODE_READ.
	readable bool

	// writable is MayWriteFileWithOpenFlags(statusFlags). writable is
	// immutable.
	//
	// writable is analogous to Linux's FMODE_WRITE.
	writable bool

	// offMu serializes offset-dependent I/O and protects off.
	offMu sync.Mutex

	// off is the file offset.
	// +checklocks:offMu
	off int64
}

var _ refs.TryRefCounter = (*FileDescription)(nil)

// FileDescriptionOptions contains options to NewFileDescription.
type FileDescriptionOptions struct {
	// If DenySeek is true, the file has no meaningful offset: Seek returns
	// ESPIPE and Read and Write pass offset 0 to the handle.
	DenySeek bool
}

// Open opens path in storage and returns a FileDescription holding one
// reference. In O_APPEND mode the initial offset is the size of the object.
func Open(ctx context.Context, storage Storage, path string, opts OpenOptions) (*FileDescription, error) {
	if err := ValidateOpenFlags(opts.Flags); err != nil {
		return nil, err
	}
	h, err := storage.Open(ctx, path, opts)
	if err != nil {
		return nil, translateError(ctx, "open", err)
	}
	fd, err := NewFileDescription(ctx, h, path, opts.Flags, FileDescriptionOptions{})
	if err != nil {
		h.Release(ctx)
		return nil, err
	}
	Metrics.Opens.Increment()
	return fd, nil
}

// NewFileDescription wraps an already open handle. On success the returned
// FileDescription owns h; on failure the caller still does.
func NewFileDescription(ctx context.Context, h Handle, name string, flags uint32, opts FileDescriptionOptions) (*FileDescription, error) {
	fd := &FileDescription{
		handle:      h,
		name:        name,
		statusFlags: flags &^ FileCreationFlags,
		opts:        opts,
		readable:    MayReadFileWithOpenFlags(flags),
		writable:    MayWriteFileWithOpenFlags(flags),
	}
	if flags&linux.O_APPEND != 0 && !opts.DenySeek {
		size, err := h.Size(ctx)
		if err != nil {
			return nil, translateError(ctx, "size", err)
		}
		fd.off = size
	}
	fd.InitRefs()
	return fd, nil
}

// ValidateOpenFlags rejects flag combinations that Open does not support: an
// access mode of 3 (O_WRONLY|O_RDWR) and unknown flag bits.
func ValidateOpenFlags(flags uint32) error {
	if flags&linux.O_ACCMODE == linux.O_ACCMODE {
		return linuxerr.EINVAL
	}
	if flags&^SupportedOpenFlags != 0 {
		return linuxerr.EINVAL
	}
	return nil
}

// DecRef decrements fd's reference count. The storage handle is released when
// the count reaches zero.
func (fd *FileDescription) DecRef(ctx context.Context) {
	fd.Refs.DecRef(func() {
		fd.handle.Release(ctx)
		Metrics.Releases.Increment()
		if ctx.IsLogging(log.Debug) {
			ctx.Debugf("released %s", fd)
		}
	})
}

// Name returns the path fd was opened with.
func (fd *FileDescription) Name() string {
	return fd.name
}

// StatusFlags returns file description status flags, as for F_GETFL.
func (fd *FileDescription) StatusFlags() uint32 {
	return fd.statusFlags
}

// IsReadable returns true if fd was opened for reading.
func (fd *FileDescription) IsReadable() bool {
	return fd.readable
}

// IsWritable returns true if fd was opened for writing.
func (fd *FileDescription) IsWritable() bool {
	return fd.writable
}

// IsAppend returns true if fd was opened with O_APPEND.
func (fd *FileDescription) IsAppend() bool {
	return fd.statusFlags&linux.O_APPEND != 0
}

// String implements fmt.Stringer.
func (fd *FileDescription) String() string {
	return fmt.Sprintf("%q (%s)", fd.name, linux.OpenFlagsString(fd.statusFlags))
}

// OffsetGuard grants exclusive access to a FileDescription's offset. It is
// returned locked by AcquireOffset and must be released exactly once,
// normally with defer.
type OffsetGuard struct {
	fd       *FileDescription
	released bool
}

// AcquireOffset blocks until no other goroutine holds fd's offset, then
// returns a guard for it.
func (fd *FileDescription) AcquireOffset() *OffsetGuard {
	fd.offMu.Lock()
	return &OffsetGuard{fd: fd}
}

// Offset returns the current offset.
func (g *OffsetGuard) Offset() int64 {
	return g.fd.off
}

// Set sets the offset.
func (g *OffsetGuard) Set(off int64) {
	g.fd.off = off
}

// Release unlocks the offset. Calls after the first are no-ops, so an early
// explicit Release may be paired with a deferred one.
func (g *OffsetGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.fd.offMu.Unlock()
}

// PRead reads from the file into dst, starting at the given offset, and
// returns the number of bytes read. It does not use or change fd's offset.
// At end of file it returns io.EOF with a short count.
func (fd *FileDescription) PRead(ctx context.Context, dst []byte, offset int64) (int64, error) {
	if fd.opts.DenySeek {
		return 0, linuxerr.ESPIPE
	}
	return fd.pread(ctx, dst, offset)
}

func (fd *FileDescription) pread(ctx context.Context, dst []byte, offset int64) (int64, error) {
	if !fd.readable {
		return 0, linuxerr.EBADF
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	if len(dst) == 0 {
		return 0, nil
	}
	n, err := fd.handle.PRead(ctx, dst, offset)
	Metrics.Reads.Increment()
	Metrics.ReadBytes.IncrementBy(uint64(n))
	if err != nil && err != io.EOF {
		err = translateError(ctx, "read", err)
	}
	return n, err
}

// Read is similar to PRead, but reads at fd's offset and advances it by the
// number of bytes read. If nothing is read, the offset is unchanged.
func (fd *FileDescription) Read(ctx context.Context, dst []byte) (int64, error) {
	if !fd.readable {
		return 0, linuxerr.EBADF
	}
	g := fd.AcquireOffset()
	defer g.Release()
	if fd.opts.DenySeek {
		return fd.pread(ctx, dst, 0)
	}
	n, err := fd.pread(ctx, dst, g.Offset())
	g.Set(g.Offset() + n)
	return n, err
}

// PWrite writes src to the file, starting at the given offset, and returns
// the number of bytes written. It does not use or change fd's offset.
func (fd *FileDescription) PWrite(ctx context.Context, src []byte, offset int64) (int64, error) {
	if fd.opts.DenySeek {
		return 0, linuxerr.ESPIPE
	}
	return fd.pwrite(ctx, src, offset)
}

func (fd *FileDescription) pwrite(ctx context.Context, src []byte, offset int64) (int64, error) {
	if !fd.writable {
		return 0, linuxerr.EBADF
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	if len(src) == 0 {
		return 0, nil
	}
	n, err := fd.handle.PWrite(ctx, src, offset)
	Metrics.Writes.Increment()
	Metrics.WriteBytes.IncrementBy(uint64(n))
	if err != nil {
		err = translateError(ctx, "write", err)
	}
	return n, err
}

// Write is similar to PWrite, but writes at fd's offset and advances it by the
// number of bytes written. In O_APPEND mode the handle appends and fd's offset
// moves to the end of the written data.
func (fd *FileDescription) Write(ctx context.Context, src []byte) (int64, error) {
	if !fd.writable {
		return 0, linuxerr.EBADF
	}
	g := fd.AcquireOffset()
	defer g.Release()
	if fd.opts.DenySeek {
		return fd.pwrite(ctx, src, 0)
	}
	if fd.IsAppend() {
		return fd.appendWrite(ctx, g, src)
	}
	off := g.Offset()
	n, err := fd.pwrite(ctx, src, off)
	if n > 0 {
		g.Set(off + n)
	}
	return n, err
}

func (fd *FileDescription) appendWrite(ctx context.Context, g *OffsetGuard, src []byte) (int64, error) {
	if len(src) == 0 {
		return 0, nil
	}
	n, end, err := fd.handle.Append(ctx, src)
	Metrics.Writes.Increment()
	Metrics.WriteBytes.IncrementBy(uint64(n))
	if n > 0 && end >= n {
		g.Set(end)
	}
	if err != nil {
		err = translateError(ctx, "write", err)
	}
	return n, err
}

// Seek changes fd's offset and returns its new value.
func (fd *FileDescription) Seek(ctx context.Context, offset int64, whence int32) (int64, error) {
	if fd.opts.DenySeek {
		return 0, linuxerr.ESPIPE
	}
	g := fd.AcquireOffset()
	defer g.Release()
	switch whence {
	case linux.SEEK_SET:
		// use offset as specified
	case linux.SEEK_CUR:
		offset += g.Offset()
	case linux.SEEK_END:
		size, err := fd.handle.Size(ctx)
		if err != nil {
			return 0, translateError(ctx, "size", err)
		}
		offset += size
	default:
		return 0, linuxerr.EINVAL
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	g.Set(offset)
	return offset, nil
}

// Size returns the current size of the underlying object.
func (fd *FileDescription) Size(ctx context.Context) (int64, error) {
	size, err := fd.handle.Size(ctx)
	if err != nil {
		return 0, translateError(ctx, "size", err)
	}
	return size, nil
}

// translateError maps a storage error onto an errno. Errors that carry none
// are logged and reported as EIO.
func translateError(ctx context.Context, op string, err error) error {
	if e, ok := linuxerr.TranslateError(err); ok {
		return e
	}
	ctx.Warningf("storage %s failed with non-errno error, returning EIO: %v", op, err)
	return linuxerr.EIO
}
