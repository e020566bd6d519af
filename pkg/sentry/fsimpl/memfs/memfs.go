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

// Package memfs provides an in-memory vfs.Storage: a flat, ordered set of
// regular files that exist only as long as the Filesystem does.
//
// Lock order:
//
//	Filesystem.mu
//	  inode.mu
package memfs

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

// btreeDegree is the branching factor of the name index.
const btreeDegree = 16

// Options configures a Filesystem.
type Options struct {
	// MaxFileSize bounds the size of every file. Writes that would exceed it
	// are truncated, and writes that cannot make progress fail with EFBIG.
	// Zero means no limit.
	MaxFileSize int64
}

// Filesystem implements vfs.Storage.
type Filesystem struct {
	opts Options

	// mu serializes changes to the name index.
	mu sync.RWMutex

	// files indexes inodes by name.
	// +checklocks:mu
	files *btree.BTreeG[*inode]
}

// New returns an empty Filesystem.
func New(opts Options) *Filesystem {
	return &Filesystem{
		opts:  opts,
		files: btree.NewG(btreeDegree, inodeLess),
	}
}

// inode is a regular file.
type inode struct {
	// name is immutable.
	name string

	// mode holds the permission bits. It is accessed using atomic memory
	// operations.
	mode atomic.Uint32

	// handles is the number of open handles on the inode.
	handles atomic.Int64

	// mu protects data.
	mu sync.RWMutex

	// data is the file contents.
	// +checklocks:mu
	data []byte
}

func inodeLess(a, b *inode) bool {
	return a.name < b.name
}

func (i *inode) perms() linux.FileMode {
	return linux.FileMode(i.mode.Load()).Permissions()
}

// checkPermissions returns EACCES if the owner permission bits of i deny ats.
func (i *inode) checkPermissions(ats vfs.AccessTypes) error {
	perms := i.perms()
	if ats.MayRead() && perms&linux.ModeUserRead == 0 {
		return linuxerr.EACCES
	}
	if ats.MayWrite() && perms&linux.ModeUserWrite == 0 {
		return linuxerr.EACCES
	}
	return nil
}

func validName(name string) bool {
	return name != "" && !strings.ContainsRune(name, 0)
}

// Open implements vfs.Storage.Open.
func (fs *Filesystem) Open(ctx context.Context, name string, opts vfs.OpenOptions) (vfs.Handle, error) {
	if !validName(name) {
		return nil, linuxerr.ENOENT
	}
	key := &inode{name: name}

	fs.mu.Lock()
	ino, ok := fs.files.Get(key)
	created := false
	switch {
	case ok && opts.Flags&(linux.O_CREAT|linux.O_EXCL) == linux.O_CREAT|linux.O_EXCL:
		fs.mu.Unlock()
		return nil, linuxerr.EEXIST
	case !ok && opts.Flags&linux.O_CREAT == 0:
		fs.mu.Unlock()
		return nil, linuxerr.ENOENT
	case !ok:
		ino = key
		ino.mode.Store(uint32(opts.Mode.Permissions()))
		fs.files.ReplaceOrInsert(ino)
		created = true
	}
	fs.mu.Unlock()

	// A file created by this call may be opened regardless of the mode it was
	// created with, as on Linux.
	if !created {
		if err := ino.checkPermissions(vfs.AccessTypesForOpenFlags(&opts)); err != nil {
			return nil, err
		}
	}
	if opts.Flags&linux.O_TRUNC != 0 {
		ino.mu.Lock()
		ino.data = ino.data[:0]
		ino.mu.Unlock()
	}
	ino.handles.Add(1)
	return &handle{fs: fs, inode: ino}, nil
}

// WriteFile creates or replaces the file name with the given contents and
// mode.
func (fs *Filesystem) WriteFile(name string, data []byte, mode linux.FileMode) error {
	if !validName(name) {
		return linuxerr.ENOENT
	}
	ino := &inode{name: name, data: append([]byte(nil), data...)}
	ino.mode.Store(uint32(mode.Permissions()))
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if old, ok := fs.files.Get(ino); ok {
		old.mode.Store(uint32(mode.Permissions()))
		old.mu.Lock()
		old.data = ino.data
		old.mu.Unlock()
		return nil
	}
	fs.files.ReplaceOrInsert(ino)
	return nil
}

// ReadFile returns a copy of the contents of name.
func (fs *Filesystem) ReadFile(name string) ([]byte, error) {
	fs.mu.RLock()
	ino, ok := fs.files.Get(&inode{name: name})
	fs.mu.RUnlock()
	if !ok {
		return nil, linuxerr.ENOENT
	}
	ino.mu.RLock()
	defer ino.mu.RUnlock()
	return append([]byte(nil), ino.data...), nil
}

// Chmod changes the permission bits of name.
func (fs *Filesystem) Chmod(name string, mode linux.FileMode) error {
	fs.mu.RLock()
	ino, ok := fs.files.Get(&inode{name: name})
	fs.mu.RUnlock()
	if !ok {
		return linuxerr.ENOENT
	}
	ino.mode.Store(uint32(mode.Permissions()))
	return nil
}

// Remove removes name from the index. Open handles keep the data alive.
func (fs *Filesystem) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files.Delete(&inode{name: name}); !ok {
		return linuxerr.ENOENT
	}
	return nil
}

// FileInfo describes one file.
type FileInfo struct {
	Name    string
	Mode    linux.FileMode
	Size    int64
	Handles int64
}

// List returns every file in name order.
func (fs *Filesystem) List() []FileInfo {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	infos := make([]FileInfo, 0, fs.files.Len())
	fs.files.Ascend(func(ino *inode) bool {
		ino.mu.RLock()
		size := int64(len(ino.data))
		ino.mu.RUnlock()
		infos = append(infos, FileInfo{
			Name:    ino.name,
			Mode:    ino.perms(),
			Size:    size,
			Handles: ino.handles.Load(),
		})
		return true
	})
	return infos
}

// handle implements vfs.Handle.
type handle struct {
	fs       *Filesystem
	inode    *inode
	released atomic.Bool
}

// PRead implements vfs.Handle.PRead.
func (h *handle) PRead(ctx context.Context, dst []byte, off int64) (int64, error) {
	h.inode.mu.RLock()
	defer h.inode.mu.RUnlock()
	if off >= int64(len(h.inode.data)) {
		return 0, io.EOF
	}
	n := copy(dst, h.inode.data[off:])
	if n < len(dst) {
		return int64(n), io.EOF
	}
	return int64(n), nil
}

// PWrite implements vfs.Handle.PWrite.
func (h *handle) PWrite(ctx context.Context, src []byte, off int64) (int64, error) {
	h.inode.mu.Lock()
	defer h.inode.mu.Unlock()
	return h.writeLocked(src, off)
}

// Append implements vfs.Handle.Append.
func (h *handle) Append(ctx context.Context, src []byte) (int64, int64, error) {
	h.inode.mu.Lock()
	defer h.inode.mu.Unlock()
	off := int64(len(h.inode.data))
	n, err := h.writeLocked(src, off)
	return n, off + n, err
}

// Preconditions: h.inode.mu is locked.
func (h *handle) writeLocked(src []byte, off int64) (int64, error) {
	var err error
	if max := h.fs.opts.MaxFileSize; max > 0 {
		if off >= max {
			return 0, linuxerr.EFBIG
		}
		if rem := max - off; int64(len(src)) > rem {
			src = src[:rem]
			err = linuxerr.EFBIG
		}
	}
	if end := off + int64(len(src)); end > int64(len(h.inode.data)) {
		if end > int64(cap(h.inode.data)) {
			grown := make([]byte, end, 2*end)
			copy(grown, h.inode.data)
			h.inode.data = grown
		} else {
			oldLen := len(h.inode.data)
			h.inode.data = h.inode.data[:end]
			clear(h.inode.data[oldLen:])
		}
	}
	n := copy(h.inode.data[off:], src)
	return int64(n), err
}

// Size implements vfs.Handle.Size.
func (h *handle) Size(ctx context.Context) (int64, error) {
	h.inode.mu.RLock()
	defer h.inode.mu.RUnlock()
	return int64(len(h.inode.data)), nil
}

// Release implements vfs.Handle.Release.
func (h *handle) Release(ctx context.Context) {
	if h.released.Swap(true) {
		panic("memfs: handle released twice")
	}
	h.inode.handles.Add(-1)
}
