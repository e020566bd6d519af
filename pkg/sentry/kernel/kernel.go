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

// Package kernel provides the process-side half of the open-file layer:
// per-task file descriptor tables, tasks that own them, and syscall
// dispatch.
//
// Lock order:
//
//	FDTable.mu
//	  vfs.FileDescription.offMu
package kernel

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

// Kernel holds the state shared by all tasks: the storage they open files
// from, the descriptor table size, and the syscall table.
type Kernel struct {
	// storage is immutable after Init.
	storage vfs.Storage

	// maxOpenFiles is the number of slots in each FDTable. It is immutable
	// after Init.
	maxOpenFiles int

	// syscalls is immutable after Init.
	syscalls *SyscallTable

	// fdTableUIDs is the last FDTable ID handed out.
	fdTableUIDs atomic.Uint64

	// tids is the last thread ID handed out.
	tids atomic.Int32

	// liveTasks is the number of tasks that have not exited.
	liveTasks atomic.Int64
}

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// Storage backs every file opened by tasks. Required.
	Storage vfs.Storage

	// MaxOpenFiles is the number of descriptor slots per table. Zero means
	// linux.OPEN_MAX.
	MaxOpenFiles int

	// SyscallTable is used to dispatch Task.Syscall. Required.
	SyscallTable *SyscallTable
}

// Init initialises a Kernel with no tasks.
func (k *Kernel) Init(args InitKernelArgs) error {
	if args.Storage == nil {
		return fmt.Errorf("Storage is nil")
	}
	if args.SyscallTable == nil {
		return fmt.Errorf("SyscallTable is nil")
	}
	if args.MaxOpenFiles < 0 {
		return fmt.Errorf("invalid MaxOpenFiles %d", args.MaxOpenFiles)
	}
	k.storage = args.Storage
	k.maxOpenFiles = args.MaxOpenFiles
	if k.maxOpenFiles == 0 {
		k.maxOpenFiles = linux.OPEN_MAX
	}
	k.syscalls = args.SyscallTable
	return nil
}

// Storage returns the storage tasks open files from.
func (k *Kernel) Storage() vfs.Storage {
	return k.storage
}

// MaxOpenFiles returns the number of slots in each FDTable.
func (k *Kernel) MaxOpenFiles() int {
	return k.maxOpenFiles
}

// SyscallTable returns the table used by Task.Syscall.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// LiveTasks returns the number of tasks that have not exited.
func (k *Kernel) LiveTasks() int64 {
	return k.liveTasks.Load()
}
