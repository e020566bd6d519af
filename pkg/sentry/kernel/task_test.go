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

package kernel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/sentry/arch"
	"gvisor.dev/fdcore/pkg/usermem"
)

func newTestTask(t *testing.T, k *Kernel) *Task {
	t.Helper()
	task, err := k.NewTask(TaskConfig{Memory: &usermem.BytesIO{Bytes: make([]byte, 64)}})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	t.Cleanup(task.Exit)
	return task
}

func TestSyscallDispatch(t *testing.T) {
	k := newTestKernel(t, 8)
	var gotArgs arch.SyscallArguments
	k.syscalls.Table = map[uintptr]Syscall{
		7: {Name: "echo", Fn: func(t *Task, args arch.SyscallArguments) (uintptr, error) {
			gotArgs = args
			return args[0].Value + 1, nil
		}},
	}
	task := newTestTask(t, k)

	rval, err := task.Syscall(7, arch.Args(41, 2))
	if rval != 42 || err != nil {
		t.Errorf("Syscall(7) = (%d, %v), want (42, nil)", rval, err)
	}
	if gotArgs[1].Int() != 2 {
		t.Errorf("handler saw args %s", gotArgs)
	}
	if _, err := task.Syscall(8, arch.Args()); err != linuxerr.ENOSYS {
		t.Errorf("Syscall(8) = %v, want ENOSYS", err)
	}

	k.syscalls.Missing = func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
		return 0, linuxerr.EPERM
	}
	if _, err := task.Syscall(8, arch.Args()); err != linuxerr.EPERM {
		t.Errorf("Syscall(8) with Missing = %v, want EPERM", err)
	}
}

func TestSyscallTableLookup(t *testing.T) {
	table := &SyscallTable{Table: map[uintptr]Syscall{
		3: {Name: "close"},
		0: {Name: "read"},
		1: {Name: "write"},
	}}
	if diff := cmp.Diff([]uintptr{0, 1, 3}, table.Numbers()); diff != "" {
		t.Errorf("Numbers() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"close", "read", "write"}, table.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
	if sysno, ok := table.LookupName("write"); !ok || sysno != 1 {
		t.Errorf("LookupName(write) = (%d, %t), want (1, true)", sysno, ok)
	}
	if _, ok := table.LookupName("open"); ok {
		t.Errorf("LookupName(open) found a syscall")
	}
}

func TestTaskCopy(t *testing.T) {
	k := newTestKernel(t, 8)
	task := newTestTask(t, k)

	src := []byte("path\x00junk")
	if n, err := task.CopyOutBytes(10, src); n != len(src) || err != nil {
		t.Fatalf("CopyOutBytes = (%d, %v), want (%d, nil)", n, err, len(src))
	}
	if s, err := task.CopyInString(10, 16); s != "path" || err != nil {
		t.Errorf("CopyInString = (%q, %v), want (\"path\", nil)", s, err)
	}
	if _, err := task.CopyInString(10, 3); err != linuxerr.ENAMETOOLONG {
		t.Errorf("CopyInString with short maxlen = %v, want ENAMETOOLONG", err)
	}
	buf := make([]byte, 8)
	if _, err := task.CopyInBytes(60, buf); err != linuxerr.EFAULT {
		t.Errorf("CopyInBytes past the end = %v, want EFAULT", err)
	}
}

func TestTaskForkAndExit(t *testing.T) {
	checkLeaks(t)
	k := newTestKernel(t, 8)
	parent := newTestTask(t, k)
	file := newTestFile(t, k, "f")
	if _, err := parent.NewFDFrom(0, file); err != nil {
		t.Fatal(err)
	}
	file.DecRef(parent)

	child, err := parent.Fork(ForkOptions{})
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.FDTable() == parent.FDTable() {
		t.Fatalf("Fork without ShareFDTable shares the table")
	}
	shared, err := parent.Fork(ForkOptions{ShareFDTable: true})
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if shared.FDTable() != parent.FDTable() {
		t.Fatalf("Fork with ShareFDTable copied the table")
	}
	if got := k.LiveTasks(); got != 3 {
		t.Errorf("LiveTasks() = %d, want 3", got)
	}

	// The parent's table and the child's copy each hold one reference.
	f := parent.GetFile(0)
	if got := f.ReadRefs(); got != 3 {
		t.Errorf("file references = %d, want 3 (two slots and ours)", got)
	}
	f.DecRef(parent)

	child.Exit()
	child.Exit()
	if _, err := child.Syscall(0, arch.Args()); err != linuxerr.ESRCH {
		t.Errorf("Syscall after Exit = %v, want ESRCH", err)
	}
	shared.Exit()
	if !parent.FDTable().IsValid(0) {
		t.Errorf("parent lost fd 0 when the task sharing its table exited")
	}
}

func TestInitStdio(t *testing.T) {
	checkLeaks(t)
	ctx := context.Background()
	k := newTestKernel(t, 8)
	fdTable := k.NewFDTable()
	defer fdTable.DecRef(ctx)

	var stdout, stderr bytes.Buffer
	if err := fdTable.InitStdio(ctx, strings.NewReader("in"), &stdout, &stderr); err != nil {
		t.Fatalf("InitStdio: %v", err)
	}
	if diff := cmp.Diff([]int32{0, 1, 2}, fdTable.GetFDs(ctx)); diff != "" {
		t.Fatalf("GetFDs() mismatch (-want +got):\n%s", diff)
	}

	out := fdTable.Get(linux.STDOUT_FILENO)
	defer fdTable.Put(ctx, out)
	if _, err := out.Write(ctx, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := out.Read(ctx, make([]byte, 1)); err != linuxerr.EBADF {
		t.Errorf("Read from stdout = %v, want EBADF", err)
	}
	if stdout.String() != "hello" || stderr.Len() != 0 {
		t.Errorf("stdout = %q, stderr = %q", stdout.String(), stderr.String())
	}
	if s := fdTable.String(); !strings.Contains(s, `fd:1 => name "stdout"`) {
		t.Errorf("String() = %q, want it to list stdout", s)
	}
}

func TestKernelInit(t *testing.T) {
	k := &Kernel{}
	if err := k.Init(InitKernelArgs{SyscallTable: &SyscallTable{}}); err == nil {
		t.Errorf("Init without Storage succeeded")
	}
	k = newTestKernel(t, 0)
	if got := k.MaxOpenFiles(); got != linux.OPEN_MAX {
		t.Errorf("MaxOpenFiles() = %d, want %d", got, linux.OPEN_MAX)
	}
}
