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

// Package hostfs provides a vfs.Storage backed by regular files in a host
// directory.
//
// Paths are resolved beneath the root directory with openat2(2) and
// RESOLVE_NO_SYMLINKS, so a symlink in any component is refused, and may not
// contain "..". On kernels without openat2(2), openat(2) with O_NOFOLLOW
// refuses only a symlink in the last component. The root is locked with an
// flock(2) on a lock file for the life of the Filesystem, so that two
// processes never serve the same directory.
package hostfs

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

// LockFileName is the name of the lock file created in the root directory.
// It cannot be opened through the Filesystem.
const LockFileName = ".fdcore.lock"

// errLocked is returned by the lock operation while another process holds
// the lock.
var errLocked = errors.New("storage root is locked by another process")

// Options configures New.
type Options struct {
	// LockTimeout is how long New waits for the root lock. Zero means try
	// once.
	LockTimeout time.Duration

	// LockRetryInterval is the delay between lock attempts. Defaults to
	// 100ms.
	LockRetryInterval time.Duration
}

// Filesystem implements vfs.Storage.
type Filesystem struct {
	// root is the host path of the root directory. root is immutable.
	root string

	// rootFD is an O_PATH descriptor for root, used with openat(2).
	rootFD int

	lock *flock.Flock

	// closed is set by Close.
	closed atomic.Bool
}

// New opens root, which must be an existing directory, and takes its lock.
func New(ctx context.Context, root string, opts Options) (*Filesystem, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	rootFD, err := unix.Open(root, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening storage root %q: %w", root, err)
	}

	lock := flock.New(filepath.Join(root, LockFileName))
	if err := acquire(ctx, lock, opts); err != nil {
		unix.Close(rootFD)
		return nil, fmt.Errorf("locking storage root %q: %w", root, err)
	}
	ctx.Debugf("hostfs: serving %q", root)
	return &Filesystem{
		root:   root,
		rootFD: rootFD,
		lock:   lock,
	}, nil
}

func acquire(ctx context.Context, lock *flock.Flock, opts Options) error {
	interval := opts.LockRetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	op := func() error {
		ok, err := lock.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLocked
		}
		return nil
	}
	var retries uint64
	if opts.LockTimeout > 0 {
		retries = uint64(opts.LockTimeout / interval)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), retries), ctx)
	return backoff.Retry(op, b)
}

// Root returns the host path served by fs.
func (fs *Filesystem) Root() string {
	return fs.root
}

// Close releases the root lock and directory. Handles opened from fs remain
// valid.
func (fs *Filesystem) Close() error {
	if fs.closed.Swap(true) {
		return nil
	}
	err := fs.lock.Unlock()
	if cerr := unix.Close(fs.rootFD); err == nil {
		err = cerr
	}
	return err
}

// relativePath maps name onto a path below the root. Leading slashes are
// ignored.
func relativePath(name string) (string, error) {
	rel := strings.TrimLeft(name, "/")
	if rel == "" || strings.ContainsRune(rel, 0) {
		return "", linuxerr.ENOENT
	}
	for _, elem := range strings.Split(rel, "/") {
		if elem == ".." {
			return "", linuxerr.EACCES
		}
	}
	if filepath.Clean(rel) == LockFileName {
		return "", linuxerr.EACCES
	}
	return rel, nil
}

// noOpenat2 is set once openat2(2) has returned ENOSYS.
var noOpenat2 atomic.Bool

// hostFlags translates open(2) flags for the host. O_APPEND is passed down so
// that the host appends atomically.
func hostFlags(flags uint32) int {
	hf := unix.O_CLOEXEC | unix.O_NOFOLLOW | unix.O_NOCTTY
	switch flags & linux.O_ACCMODE {
	case linux.O_WRONLY:
		hf |= unix.O_WRONLY
	case linux.O_RDWR:
		hf |= unix.O_RDWR
	default:
		hf |= unix.O_RDONLY
	}
	if flags&linux.O_CREAT != 0 {
		hf |= unix.O_CREAT
	}
	if flags&linux.O_EXCL != 0 {
		hf |= unix.O_EXCL
	}
	if flags&linux.O_TRUNC != 0 {
		hf |= unix.O_TRUNC
	}
	if flags&linux.O_APPEND != 0 {
		hf |= unix.O_APPEND
	}
	return hf
}

func (fs *Filesystem) openat(rel string, flags int, mode uint32) (int, error) {
	if !noOpenat2.Load() {
		how := unix.OpenHow{
			Flags:   uint64(flags),
			Resolve: unix.RESOLVE_BENEATH | unix.RESOLVE_NO_SYMLINKS,
		}
		// openat2(2) rejects a mode without O_CREAT.
		if flags&unix.O_CREAT != 0 {
			how.Mode = uint64(mode)
		}
		fd, err := retryEINTR(func() (int, error) {
			return unix.Openat2(fs.rootFD, rel, &how)
		})
		if err != unix.ENOSYS {
			return fd, err
		}
		noOpenat2.Store(true)
	}
	return retryEINTR(func() (int, error) {
		return unix.Openat(fs.rootFD, rel, flags, mode)
	})
}

// Open implements vfs.Storage.Open.
func (fs *Filesystem) Open(ctx context.Context, name string, opts vfs.OpenOptions) (vfs.Handle, error) {
	if fs.closed.Load() {
		return nil, linuxerr.EIO
	}
	rel, err := relativePath(name)
	if err != nil {
		return nil, err
	}
	hostFD, err := fs.openat(rel, hostFlags(opts.Flags), uint32(opts.Mode.Permissions()))
	if err != nil {
		return nil, hostError(err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(hostFD, &st); err != nil {
		unix.Close(hostFD)
		return nil, hostError(err)
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
	case unix.S_IFDIR:
		unix.Close(hostFD)
		return nil, linuxerr.EISDIR
	default:
		unix.Close(hostFD)
		return nil, linuxerr.ENXIO
	}
	return &handle{fd: hostFD, append: opts.Flags&linux.O_APPEND != 0}, nil
}

// handle implements vfs.Handle over a host file descriptor.
type handle struct {
	fd int

	// append is true if fd was opened with O_APPEND. append is immutable.
	append bool
}

// PRead implements vfs.Handle.PRead.
func (h *handle) PRead(ctx context.Context, dst []byte, off int64) (int64, error) {
	var total int64
	for total < int64(len(dst)) {
		n, err := retryEINTR(func() (int, error) {
			return unix.Pread(h.fd, dst[total:], off+total)
		})
		if err != nil {
			return total, hostError(err)
		}
		if n == 0 {
			return total, io.EOF
		}
		total += int64(n)
	}
	return total, nil
}

// PWrite implements vfs.Handle.PWrite.
func (h *handle) PWrite(ctx context.Context, src []byte, off int64) (int64, error) {
	var total int64
	for total < int64(len(src)) {
		n, err := retryEINTR(func() (int, error) {
			return unix.Pwrite(h.fd, src[total:], off+total)
		})
		if err != nil {
			return total, hostError(err)
		}
		if n == 0 {
			return total, linuxerr.EIO
		}
		total += int64(n)
	}
	return total, nil
}

// Append implements vfs.Handle.Append. Each write(2) on an O_APPEND host
// file finds the end and writes in one step.
func (h *handle) Append(ctx context.Context, src []byte) (int64, int64, error) {
	if !h.append {
		return 0, 0, linuxerr.EINVAL
	}
	var (
		total int64
		werr  error
	)
	for total < int64(len(src)) {
		n, err := retryEINTR(func() (int, error) {
			return unix.Write(h.fd, src[total:])
		})
		if err != nil {
			werr = hostError(err)
			break
		}
		if n == 0 {
			werr = linuxerr.EIO
			break
		}
		total += int64(n)
	}
	// The host offset follows the last append.
	end, err := unix.Seek(h.fd, 0, io.SeekCurrent)
	if err != nil && werr == nil {
		werr = hostError(err)
	}
	return total, end, werr
}

// Size implements vfs.Handle.Size.
func (h *handle) Size(ctx context.Context) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(h.fd, &st); err != nil {
		return 0, hostError(err)
	}
	return st.Size, nil
}

// Release implements vfs.Handle.Release.
func (h *handle) Release(ctx context.Context) {
	if err := unix.Close(h.fd); err != nil {
		ctx.Warningf("hostfs: close(%d) failed: %v", h.fd, err)
	}
	h.fd = -1
}

func retryEINTR(f func() (int, error)) (int, error) {
	for {
		n, err := f()
		if err != unix.EINTR {
			return n, err
		}
	}
}

// hostError converts an error from package unix into a linuxerr error.
func hostError(err error) error {
	if errno, ok := err.(unix.Errno); ok {
		switch errno {
		case unix.ELOOP:
			// A symlink refused by RESOLVE_NO_SYMLINKS or O_NOFOLLOW.
			return linuxerr.EACCES
		case unix.EXDEV:
			// An escape refused by RESOLVE_BENEATH.
			return linuxerr.EACCES
		}
		return linuxerr.ErrorFromUnix(errno)
	}
	return err
}
