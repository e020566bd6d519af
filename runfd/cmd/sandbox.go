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

package cmd

import (
	"fmt"
	"io"

	"gvisor.dev/fdcore/pkg/cleanup"
	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/sentry/fsimpl/hostfs"
	"gvisor.dev/fdcore/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/fdcore/pkg/sentry/kernel"
	"gvisor.dev/fdcore/pkg/sentry/syscalls/linux"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
	"gvisor.dev/fdcore/pkg/usermem"
	"gvisor.dev/fdcore/runfd/config"
)

// Stdio is the standard streams installed in the first task when
// config.Stdio is set.
type Stdio struct {
	Stdin          io.Reader
	Stdout, Stderr io.Writer
}

// Sandbox is a kernel together with the storage it serves.
type Sandbox struct {
	Kernel *kernel.Kernel

	// MemFS is set when the storage is memfs.
	MemFS *memfs.Filesystem

	host *hostfs.Filesystem
}

// NewSandbox creates the storage and kernel described by conf.
func NewSandbox(ctx context.Context, conf *config.Config) (*Sandbox, error) {
	s := &Sandbox{}
	var storage vfs.Storage
	switch conf.Storage {
	case config.StorageMemFS:
		s.MemFS = memfs.New(memfs.Options{MaxFileSize: conf.MemFSMaxFileSize})
		storage = s.MemFS
	case config.StorageHost:
		fs, err := hostfs.New(ctx, conf.HostRoot, hostfs.Options{LockTimeout: conf.HostLockTimeout})
		if err != nil {
			return nil, err
		}
		s.host = fs
		storage = fs
	default:
		return nil, fmt.Errorf("unknown storage %q", conf.Storage)
	}
	cu := cleanup.Make(func() { s.Close() })
	defer cu.Clean()

	s.Kernel = &kernel.Kernel{}
	if err := s.Kernel.Init(kernel.InitKernelArgs{
		Storage:      storage,
		MaxOpenFiles: conf.MaxOpenFiles,
		SyscallTable: linux.AMD64,
	}); err != nil {
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}
	ctx.Infof("Kernel created: storage %s, %d descriptors per table", conf.Storage, s.Kernel.MaxOpenFiles())
	cu.Release()
	return s, nil
}

// NewTask creates a task with its own descriptor table and an address space
// of memSize bytes. If stdio is non-nil it is installed as fds 0, 1 and 2.
func (s *Sandbox) NewTask(ctx context.Context, memSize int, stdio *Stdio) (*kernel.Task, *usermem.BytesIO, error) {
	mem := &usermem.BytesIO{Bytes: make([]byte, memSize)}
	t, err := s.Kernel.NewTask(kernel.TaskConfig{Context: ctx, Memory: mem})
	if err != nil {
		return nil, nil, err
	}
	if stdio != nil {
		if err := t.FDTable().InitStdio(t, stdio.Stdin, stdio.Stdout, stdio.Stderr); err != nil {
			t.Exit()
			return nil, nil, fmt.Errorf("installing stdio: %w", err)
		}
	}
	return t, mem, nil
}

// Close releases the storage. Tasks must have exited.
func (s *Sandbox) Close() error {
	if s.host != nil {
		return s.host.Close()
	}
	return nil
}
