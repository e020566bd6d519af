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

package linux

import (
	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/hostarch"
	"gvisor.dev/fdcore/pkg/sentry/arch"
	"gvisor.dev/fdcore/pkg/sentry/kernel"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

// ioSize validates a read or write byte count, truncating it to
// linux.MAX_RW_COUNT as Linux does.
func ioSize(addr hostarch.Addr, size uint) (int, error) {
	si := int(size)
	if si < 0 {
		return 0, linuxerr.EINVAL
	}
	if si > linux.MAX_RW_COUNT {
		si = linux.MAX_RW_COUNT
	}
	if _, ok := addr.AddLength(uint64(si)); !ok {
		return 0, linuxerr.EFAULT
	}
	return si, nil
}

// Read implements Linux syscall read(2). Note that we try to get a buffer
// that is exactly the size requested because some applications expect they
// can do large reads all at once.
func Read(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	file := t.GetFile(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	defer t.FDTable().Put(t, file)

	// Check that the file is readable.
	if !file.IsReadable() {
		return 0, linuxerr.EBADF
	}

	// Check that the size is legitimate.
	si, err := ioSize(addr, size)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, si)
	n, err := file.Read(t, buf)
	return copyOutRead(t, addr, buf[:n], err, "read", file)
}

// Pread64 implements Linux syscall pread64(2).
func Pread64(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()
	offset := args[3].Int64()

	file := t.GetFile(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	defer t.FDTable().Put(t, file)

	// Check that the offset is legitimate.
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}

	// Check that the file is readable.
	if !file.IsReadable() {
		return 0, linuxerr.EBADF
	}

	si, err := ioSize(addr, size)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, si)
	n, err := file.PRead(t, buf, offset)
	return copyOutRead(t, addr, buf[:n], err, "pread64", file)
}

// copyOutRead copies the bytes read into buf out to the task, and decides the
// syscall result from the read error and the copy-out.
func copyOutRead(t *kernel.Task, addr hostarch.Addr, buf []byte, rerr error, op string, file *vfs.FileDescription) (uintptr, error) {
	n := 0
	if len(buf) > 0 {
		var cerr error
		n, cerr = t.CopyOutBytes(addr, buf)
		if cerr != nil {
			// The bytes are consumed from the file either way; report what
			// reached the task.
			return uintptr(n), handleIOError(t, n != 0, cerr, op, file)
		}
	}
	return uintptr(n), handleIOError(t, n != 0, rerr, op, file)
}

// Write implements Linux syscall write(2).
func Write(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	file := t.GetFile(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	defer t.FDTable().Put(t, file)

	// Check that the file is writable.
	if !file.IsWritable() {
		return 0, linuxerr.EBADF
	}

	// Check that the size is legitimate.
	si, err := ioSize(addr, size)
	if err != nil {
		return 0, err
	}

	buf, cerr := copyInWrite(t, addr, si)
	if len(buf) == 0 && cerr != nil {
		return 0, cerr
	}
	// A fault part way through the buffer shows up as a short write.
	n, err := file.Write(t, buf)
	return uintptr(n), handleIOError(t, n != 0, err, "write", file)
}

// Pwrite64 implements Linux syscall pwrite64(2).
func Pwrite64(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()
	offset := args[3].Int64()

	file := t.GetFile(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	defer t.FDTable().Put(t, file)

	// Check that the offset is legitimate.
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}

	// Check that the file is writable.
	if !file.IsWritable() {
		return 0, linuxerr.EBADF
	}

	si, err := ioSize(addr, size)
	if err != nil {
		return 0, err
	}

	buf, cerr := copyInWrite(t, addr, si)
	if len(buf) == 0 && cerr != nil {
		return 0, cerr
	}
	// A fault part way through the buffer shows up as a short write.
	n, err := file.PWrite(t, buf, offset)
	return uintptr(n), handleIOError(t, n != 0, err, "pwrite64", file)
}

// copyInWrite stages size bytes from the task as raw bytes. If only part of
// the range is readable, the readable prefix is returned with the fault.
func copyInWrite(t *kernel.Task, addr hostarch.Addr, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := t.CopyInBytes(addr, buf)
	return buf[:n], err
}
