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
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/refs"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

// FDTable maps file descriptors to open file descriptions.
//
// Every occupied slot holds one reference on its FileDescription. Slots are
// read without locking; all changes to slots are made under mu, and
// references that may destroy a FileDescription are dropped after mu is
// released.
//
// FDTables are themselves reference-counted so that tasks may share one.
// Dropping the last reference empties the table.
type FDTable struct {
	refs.Refs[FDTable]

	k *Kernel

	// uid is a unique identifier. uid is immutable.
	uid uint64

	// mu serializes changes to slots.
	mu sync.Mutex

	// used is the number of occupied slots. It may be read without holding
	// mu.
	used atomic.Int32

	// slots has fixed length. Each element is updated atomically, and only
	// while holding mu.
	slots []atomic.Pointer[vfs.FileDescription]
}

var _ refs.RefCounter = (*FDTable)(nil)

// NewFDTable allocates a new, empty FDTable that may be used by tasks in k.
// The caller holds the returned table's only reference.
func (k *Kernel) NewFDTable() *FDTable {
	f := &FDTable{
		k:     k,
		uid:   k.fdTableUIDs.Add(1),
		slots: make([]atomic.Pointer[vfs.FileDescription], k.maxOpenFiles),
	}
	f.InitRefs()
	return f
}

// ID returns a unique identifier for this FDTable.
func (f *FDTable) ID() uint64 {
	return f.uid
}

// Limit returns the number of slots in f.
func (f *FDTable) Limit() int {
	return len(f.slots)
}

// DecRef drops a reference on f. When the last reference is dropped, every
// descriptor is removed.
func (f *FDTable) DecRef(ctx context.Context) {
	f.Refs.DecRef(func() {
		f.RemoveIf(ctx, func(int32, *vfs.FileDescription) bool {
			return true
		})
	})
}

// inRange reports whether fd indexes a slot.
func (f *FDTable) inRange(fd int32) bool {
	return fd >= 0 && int(fd) < len(f.slots)
}

// Size returns the number of occupied slots.
func (f *FDTable) Size() int {
	return int(f.used.Load())
}

// NewFD installs file at the lowest free descriptor greater than or equal to
// minFD and returns it. The table takes its own reference on file; the
// caller keeps the reference it passed in.
//
// NewFD returns EMFILE, leaving f unchanged, if no such descriptor is free.
func (f *FDTable) NewFD(ctx context.Context, minFD int32, file *vfs.FileDescription) (int32, error) {
	if minFD < 0 {
		// Don't accept negative FDs.
		return -1, linuxerr.EINVAL
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for fd := int(minFD); fd < len(f.slots); fd++ {
		if f.slots[fd].Load() != nil {
			continue
		}
		file.IncRef()
		f.slots[fd].Store(file)
		f.used.Add(1)
		return int32(fd), nil
	}
	return -1, linuxerr.EMFILE
}

// NewFDAt replaces the occupant of fd with file, which may be nil to clear
// the slot. If file is non-nil the table takes its own reference on it.
//
// The previous occupant, if any, is returned along with the reference the
// slot held on it. The caller must drop that reference with DecRef; NewFDAt
// never does so itself, so that destruction happens outside the table lock.
//
// NewFDAt returns EBADF if fd is outside the table.
func (f *FDTable) NewFDAt(ctx context.Context, fd int32, file *vfs.FileDescription) (*vfs.FileDescription, error) {
	if !f.inRange(fd) {
		return nil, linuxerr.EBADF
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if file != nil {
		file.IncRef()
	}
	orig := f.slots[fd].Swap(file)
	switch {
	case orig == nil && file != nil:
		f.used.Add(1)
	case orig != nil && file == nil:
		f.used.Add(-1)
	}
	return orig, nil
}

// Get returns the file at fd with a new reference held by the caller, or nil
// if fd is not open. The reference must be dropped with Put (or DecRef).
func (f *FDTable) Get(fd int32) *vfs.FileDescription {
	if !f.inRange(fd) {
		return nil
	}
	for {
		file := f.slots[fd].Load()
		if file == nil {
			return nil
		}
		if file.TryIncRef() {
			return file
		}
		// Race caught: file was released after the load, so the slot has
		// already been cleared or replaced.
	}
}

// Put drops a reference returned by Get.
func (f *FDTable) Put(ctx context.Context, file *vfs.FileDescription) {
	file.DecRef(ctx)
}

// IsValid returns true if fd is in range and occupied. It takes no
// reference, so the answer may be stale by the time it is used.
func (f *FDTable) IsValid(fd int32) bool {
	return f.inRange(fd) && f.slots[fd].Load() != nil
}

// Remove clears fd and returns its previous occupant, with the slot's
// reference transferred to the caller, or nil if fd was not open.
func (f *FDTable) Remove(ctx context.Context, fd int32) *vfs.FileDescription {
	orig, err := f.NewFDAt(ctx, fd, nil)
	if err != nil {
		return nil
	}
	return orig
}

// RemoveIf removes every descriptor for which cond returns true and drops the
// references they held.
func (f *FDTable) RemoveIf(ctx context.Context, cond func(fd int32, file *vfs.FileDescription) bool) {
	var removed []*vfs.FileDescription

	f.mu.Lock()
	for fd := range f.slots {
		file := f.slots[fd].Load()
		if file == nil || !cond(int32(fd), file) {
			continue
		}
		f.slots[fd].Store(nil)
		f.used.Add(-1)
		removed = append(removed, file)
	}
	f.mu.Unlock()

	for _, file := range removed {
		file.DecRef(ctx)
	}
}

// Fork returns an independent FDTable with the same descriptors as f. Each
// copied slot takes a new reference on its FileDescription, so the two tables
// share open file descriptions (and their offsets) but not slots.
func (f *FDTable) Fork(ctx context.Context) *FDTable {
	clone := f.k.NewFDTable()

	f.mu.Lock()
	defer f.mu.Unlock()
	for fd := range f.slots {
		if file := f.slots[fd].Load(); file != nil {
			// f's slot reference keeps file alive while mu is held.
			file.IncRef()
			clone.slots[fd].Store(file)
			clone.used.Add(1)
		}
	}
	return clone
}

// forEach calls fn for every occupied slot, holding a temporary reference on
// each file for the duration of the call. It does not lock f, so the set of
// descriptors visited may be stale.
func (f *FDTable) forEach(ctx context.Context, fn func(fd int32, file *vfs.FileDescription)) {
	for fd := range f.slots {
		file := f.Get(int32(fd))
		if file == nil {
			continue
		}
		fn(int32(fd), file)
		file.DecRef(ctx)
	}
}

// GetFDs returns the open descriptors in increasing order.
func (f *FDTable) GetFDs(ctx context.Context) []int32 {
	fds := make([]int32, 0, f.Size())
	f.forEach(ctx, func(fd int32, _ *vfs.FileDescription) {
		fds = append(fds, fd)
	})
	return fds
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	var b strings.Builder
	f.forEach(context.Background(), func(fd int32, file *vfs.FileDescription) {
		fmt.Fprintf(&b, "\tfd:%d => name %s\n", fd, file)
	})
	return b.String()
}

// InitStdio installs stream files at descriptors 0, 1 and 2. A nil reader or
// writer leaves its descriptor empty.
func (f *FDTable) InitStdio(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	install := func(fd int32, file *vfs.FileDescription) error {
		defer file.DecRef(ctx)
		orig, err := f.NewFDAt(ctx, fd, file)
		if err != nil {
			return err
		}
		if orig != nil {
			orig.DecRef(ctx)
		}
		return nil
	}
	if stdin != nil {
		if err := install(linux.STDIN_FILENO, vfs.NewStreamFileDescription(ctx, "stdin", stdin, nil, linux.O_RDONLY)); err != nil {
			return err
		}
	}
	if stdout != nil {
		if err := install(linux.STDOUT_FILENO, vfs.NewStreamFileDescription(ctx, "stdout", nil, stdout, linux.O_WRONLY)); err != nil {
			return err
		}
	}
	if stderr != nil {
		if err := install(linux.STDERR_FILENO, vfs.NewStreamFileDescription(ctx, "stderr", nil, stderr, linux.O_WRONLY)); err != nil {
			return err
		}
	}
	return nil
}
