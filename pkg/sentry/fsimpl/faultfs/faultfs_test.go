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

package faultfs

import (
	"testing"

	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

func TestOpenRule(t *testing.T) {
	ctx := context.Background()
	fs := New(memfs.New(memfs.Options{}))
	fs.AddRule(Rule{Op: OpOpen, Path: "bad", Err: linuxerr.EIO, After: 1, Count: 1})

	opts := vfs.OpenOptions{Flags: linux.O_RDWR | linux.O_CREAT, Mode: 0644}
	for i, want := range []error{nil, linuxerr.EIO, nil} {
		h, err := fs.Open(ctx, "bad", opts)
		if err != want {
			t.Fatalf("Open #%d = %v, want %v", i, err, want)
		}
		if h != nil {
			h.Release(ctx)
		}
	}
	h, err := fs.Open(ctx, "good", opts)
	if err != nil {
		t.Fatalf("Open(good): %v", err)
	}
	h.Release(ctx)
	if got := fs.Injected(); got != 1 {
		t.Errorf("Injected() = %d, want 1", got)
	}
}

func TestShortWrite(t *testing.T) {
	ctx := context.Background()
	mfs := memfs.New(memfs.Options{})
	fs := New(mfs)
	fs.AddRule(Rule{Op: OpWrite, Err: linuxerr.ENOSPC, Short: true})

	h, err := fs.Open(ctx, "f", vfs.OpenOptions{Flags: linux.O_RDWR | linux.O_CREAT, Mode: 0644})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Release(ctx)
	n, err := h.PWrite(ctx, []byte("abcdef"), 0)
	if n != 3 || err != linuxerr.ENOSPC {
		t.Fatalf("PWrite = (%d, %v), want (3, ENOSPC)", n, err)
	}
	data, err := mfs.ReadFile("f")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("contents = %q, want %q", data, "abc")
	}

	fs.Reset()
	if n, err := h.PWrite(ctx, []byte("def"), 3); n != 3 || err != nil {
		t.Errorf("PWrite after Reset = (%d, %v), want (3, nil)", n, err)
	}
}

func TestReadAndSizeRules(t *testing.T) {
	ctx := context.Background()
	mfs := memfs.New(memfs.Options{})
	if err := mfs.WriteFile("f", []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	fs := New(mfs)
	fs.AddRule(Rule{Op: OpRead, Err: linuxerr.EIO, Count: 1})
	fs.AddRule(Rule{Op: OpSize, Path: "f", Err: linuxerr.EOVERFLOW})

	h, err := fs.Open(ctx, "f", vfs.OpenOptions{Flags: linux.O_RDONLY})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Release(ctx)
	buf := make([]byte, 4)
	if n, err := h.PRead(ctx, buf, 0); n != 0 || err != linuxerr.EIO {
		t.Errorf("first PRead = (%d, %v), want (0, EIO)", n, err)
	}
	if n, err := h.PRead(ctx, buf, 0); n != 4 || err != nil {
		t.Errorf("second PRead = (%d, %v), want (4, nil)", n, err)
	}
	if _, err := h.Size(ctx); err != linuxerr.EOVERFLOW {
		t.Errorf("Size = %v, want EOVERFLOW", err)
	}
}
