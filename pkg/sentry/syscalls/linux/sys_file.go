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
	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/hostarch"
	"gvisor.dev/fdcore/pkg/sentry/arch"
	"gvisor.dev/fdcore/pkg/sentry/kernel"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

// copyInPath copies a path from the task's memory. Paths may not be empty.
func copyInPath(t *kernel.Task, addr hostarch.Addr) (string, error) {
	path, err := t.CopyInString(addr, linux.PATH_MAX)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", linuxerr.ENOENT
	}
	return path, nil
}

// Open implements Linux syscall open(2).
func Open(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	addr := args[0].Pointer()
	flags := args[1].Uint()
	mode := args[2].ModeT()
	return openat(t, addr, flags, mode)
}

func openat(t *kernel.Task, pathAddr hostarch.Addr, flags uint32, mode uint) (uintptr, error) {
	if err := vfs.ValidateOpenFlags(flags); err != nil {
		return 0, err
	}
	path, err := copyInPath(t, pathAddr)
	if err != nil {
		return 0, err
	}

	file, err := vfs.Open(t, t.Kernel().Storage(), path, vfs.OpenOptions{
		Flags: flags,
		Mode:  linux.FileMode(mode & linux.PermissionsMask),
	})
	if err != nil {
		return 0, err
	}
	// The table takes its own reference; this one is always dropped, so a
	// failed install releases the file.
	defer file.DecRef(t)

	fd, err := t.NewFDFrom(0, file)
	if err != nil {
		return 0, err
	}
	return uintptr(fd), nil
}

// Close implements Linux syscall close(2).
func Close(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()

	fdTable := t.FDTable()
	if !fdTable.IsValid(fd) {
		return 0, linuxerr.EBADF
	}
	// Remove transfers the slot's reference to us. It may still find the slot
	// empty if another goroutine closed fd after IsValid.
	file := fdTable.Remove(t, fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	file.DecRef(t)
	return 0, nil
}

// Dup implements Linux syscall dup(2).
func Dup(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()

	file := t.GetFile(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	defer file.DecRef(t)

	newFD, err := t.NewFDFrom(0, file)
	if err != nil {
		return 0, linuxerr.EMFILE
	}
	return uintptr(newFD), nil
}

// Dup2 implements Linux syscall dup2(2).
func Dup2(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	oldfd := args[0].Int()
	newfd := args[1].Int()

	file := t.GetFile(oldfd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	defer file.DecRef(t)

	if oldfd == newfd {
		// As long as oldfd is valid, dup2() does nothing and returns newfd.
		return uintptr(newfd), nil
	}

	if err := t.NewFDAt(newfd, file); err != nil {
		return 0, err
	}
	return uintptr(newfd), nil
}
