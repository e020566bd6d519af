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

	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/hostarch"
	"gvisor.dev/fdcore/pkg/log"
	"gvisor.dev/fdcore/pkg/sentry/arch"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
	"gvisor.dev/fdcore/pkg/usermem"
)

// Task represents a thread of execution issuing syscalls against its own
// address space and file descriptor table.
//
// A Task is a context.Context and is passed as one to everything it calls.
// Like every Context it must be used by one goroutine at a time.
type Task struct {
	context.Context

	k *Kernel

	// tid is immutable.
	tid int32

	// mm is the task's address space. mm is immutable.
	mm usermem.IO

	// fdTable is the task's descriptor table. The task holds a reference on
	// it until Exit. fdTable is nil after Exit.
	fdTable *FDTable
}

// TaskConfig defines the configuration of a new Task.
type TaskConfig struct {
	// Context is the parent context. If nil, context.Background is used.
	Context context.Context

	// Memory is the task's address space. Required.
	Memory usermem.IO

	// FDTable is the task's descriptor table. The new task takes its own
	// reference. If nil, a new empty table is created.
	FDTable *FDTable
}

// NewTask creates a new task.
func (k *Kernel) NewTask(cfg TaskConfig) (*Task, error) {
	if cfg.Memory == nil {
		return nil, fmt.Errorf("Memory is nil")
	}
	if k.syscalls == nil {
		return nil, fmt.Errorf("kernel is not initialised")
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	fdTable := cfg.FDTable
	if fdTable == nil {
		fdTable = k.NewFDTable()
	} else {
		fdTable.IncRef()
	}
	t := &Task{
		Context: ctx,
		k:       k,
		tid:     k.tids.Add(1),
		mm:      cfg.Memory,
		fdTable: fdTable,
	}
	k.liveTasks.Add(1)
	return t, nil
}

// Kernel returns the Kernel containing t.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// ThreadID returns t's thread ID.
func (t *Task) ThreadID() int32 {
	return t.tid
}

// FDTable returns t's descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// GetFile is a convenience wrapper for t.FDTable().Get.
func (t *Task) GetFile(fd int32) *vfs.FileDescription {
	return t.fdTable.Get(fd)
}

// NewFDFrom is a convenience wrapper for t.FDTable().NewFD.
func (t *Task) NewFDFrom(minFD int32, file *vfs.FileDescription) (int32, error) {
	return t.fdTable.NewFD(t, minFD, file)
}

// NewFDAt installs file at fd, dropping the reference held on the previous
// occupant.
func (t *Task) NewFDAt(fd int32, file *vfs.FileDescription) error {
	orig, err := t.fdTable.NewFDAt(t, fd, file)
	if err != nil {
		return err
	}
	if orig != nil {
		orig.DecRef(t)
	}
	return nil
}

// ForkOptions controls Fork.
type ForkOptions struct {
	// If ShareFDTable is true, the child uses t's FDTable instead of a copy,
	// as with clone(CLONE_FILES).
	ShareFDTable bool

	// Memory is the child's address space. If nil, the child shares t's.
	Memory usermem.IO
}

// Fork creates a child of t. Unless opts.ShareFDTable is set, the child gets
// a copy of t's descriptor table that shares every open file description.
func (t *Task) Fork(opts ForkOptions) (*Task, error) {
	if t.fdTable == nil {
		return nil, linuxerr.ESRCH
	}
	mm := opts.Memory
	if mm == nil {
		mm = t.mm
	}
	cfg := TaskConfig{Context: t.Context, Memory: mm}
	if opts.ShareFDTable {
		cfg.FDTable = t.fdTable
		return t.k.NewTask(cfg)
	}
	cfg.FDTable = t.fdTable.Fork(t)
	child, err := t.k.NewTask(cfg)
	// NewTask took its own reference on the copy.
	cfg.FDTable.DecRef(t)
	if err == nil {
		t.Debugf("[%d] forked task %d with fd table %d", t.tid, child.ThreadID(), cfg.FDTable.ID())
	}
	return child, err
}

// Exit releases t's reference on its descriptor table. Calls after the first
// are no-ops.
func (t *Task) Exit() {
	if t.fdTable == nil {
		return
	}
	t.fdTable.DecRef(t)
	t.fdTable = nil
	t.k.liveTasks.Add(-1)
}

// Syscall invokes syscall sysno with args.
func (t *Task) Syscall(sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	if t.fdTable == nil {
		return 0, linuxerr.ESRCH
	}
	s := t.k.syscalls
	sc, ok := s.Lookup(sysno)
	if !ok {
		if s.Missing != nil {
			return s.Missing(t, sysno, args)
		}
		t.Debugf("[%d] unsupported syscall %d", t.tid, sysno)
		return 0, linuxerr.ENOSYS
	}
	rval, err := sc.Fn(t, args)
	s.account(sc, err)
	if t.IsLogging(log.Debug) {
		if err != nil {
			t.Debugf("[%d] %s(%s) = %v", t.tid, sc.Name, args, err)
		} else {
			t.Debugf("[%d] %s(%s) = %d", t.tid, sc.Name, args, rval)
		}
	}
	return rval, err
}

// CopyInBytes copies len(dst) bytes from t's memory at addr.
func (t *Task) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return usermem.CopyInBytes(t, t.mm, addr, dst)
}

// CopyOutBytes copies src to t's memory at addr.
func (t *Task) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return usermem.CopyOutBytes(t, t.mm, addr, src)
}

// CopyInString copies a NUL-terminated string of at most maxlen bytes,
// including the NUL, from t's memory at addr.
func (t *Task) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	return usermem.CopyStringIn(t, t.mm, addr, maxlen, usermem.IOOpts{})
}
