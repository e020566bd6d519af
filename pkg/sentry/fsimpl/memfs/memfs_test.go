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

package memfs

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	fs := New(Options{})
	if err := fs.WriteFile("ro", []byte("x"), 0444); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fs.WriteFile("wo", []byte("x"), 0200); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	for _, tc := range []struct {
		name  string
		path  string
		flags uint32
		want  error
	}{
		{name: "missing", path: "nope", flags: linux.O_RDONLY, want: linuxerr.ENOENT},
		{name: "empty path", path: "", flags: linux.O_RDONLY | linux.O_CREAT, want: linuxerr.ENOENT},
		{name: "exclusive on existing", path: "ro", flags: linux.O_RDONLY | linux.O_CREAT | linux.O_EXCL, want: linuxerr.EEXIST},
		{name: "write read-only", path: "ro", flags: linux.O_WRONLY, want: linuxerr.EACCES},
		{name: "truncate read-only", path: "ro", flags: linux.O_RDONLY | linux.O_TRUNC, want: linuxerr.EACCES},
		{name: "read write-only", path: "wo", flags: linux.O_RDWR, want: linuxerr.EACCES},
		{name: "read ok", path: "ro", flags: linux.O_RDONLY},
		{name: "create ok", path: "new", flags: linux.O_WRONLY | linux.O_CREAT},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h, err := fs.Open(ctx, tc.path, vfs.OpenOptions{Flags: tc.flags, Mode: 0644})
			if err != tc.want {
				t.Fatalf("Open(%q, %s) = %v, want %v", tc.path, linux.OpenFlagsString(tc.flags), err, tc.want)
			}
			if h != nil {
				h.Release(ctx)
			}
		})
	}
}

func TestCreateWithoutPermissionStillOpens(t *testing.T) {
	ctx := context.Background()
	fs := New(Options{})
	h, err := fs.Open(ctx, "locked", vfs.OpenOptions{Flags: linux.O_RDWR | linux.O_CREAT, Mode: 0})
	if err != nil {
		t.Fatalf("Open with O_CREAT: %v", err)
	}
	h.Release(ctx)
	if _, err := fs.Open(ctx, "locked", vfs.OpenOptions{Flags: linux.O_RDONLY}); err != linuxerr.EACCES {
		t.Errorf("reopen of mode 0 file = %v, want EACCES", err)
	}
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	fs := New(Options{})
	h, err := fs.Open(ctx, "f", vfs.OpenOptions{Flags: linux.O_RDWR | linux.O_CREAT, Mode: 0644})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Release(ctx)

	if n, err := h.PWrite(ctx, []byte("hello"), 0); n != 5 || err != nil {
		t.Fatalf("PWrite: got (%d, %v), want (5, nil)", n, err)
	}
	// A write past the end leaves a zero-filled hole.
	if n, err := h.PWrite(ctx, []byte("!"), 7); n != 1 || err != nil {
		t.Fatalf("PWrite: got (%d, %v), want (1, nil)", n, err)
	}
	if size, _ := h.Size(ctx); size != 8 {
		t.Errorf("Size() = %d, want 8", size)
	}

	buf := make([]byte, 16)
	n, err := h.PRead(ctx, buf, 0)
	if n != 8 || err != io.EOF {
		t.Errorf("PRead: got (%d, %v), want (8, EOF)", n, err)
	}
	if diff := cmp.Diff([]byte("hello\x00\x00!"), buf[:n]); diff != "" {
		t.Errorf("contents mismatch (-want +got):\n%s", diff)
	}
	if n, err := h.PRead(ctx, buf, 8); n != 0 || err != io.EOF {
		t.Errorf("PRead at end: got (%d, %v), want (0, EOF)", n, err)
	}
}

func TestTruncateReusesNoStaleBytes(t *testing.T) {
	ctx := context.Background()
	fs := New(Options{})
	if err := fs.WriteFile("f", []byte("secretdata"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	h, err := fs.Open(ctx, "f", vfs.OpenOptions{Flags: linux.O_WRONLY | linux.O_TRUNC})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := h.PWrite(ctx, []byte("x"), 4); err != nil {
		t.Fatalf("PWrite: %v", err)
	}
	h.Release(ctx)
	got, err := fs.ReadFile("f")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if diff := cmp.Diff([]byte("\x00\x00\x00\x00x"), got); diff != "" {
		t.Errorf("contents mismatch (-want +got):\n%s", diff)
	}
}

func TestMaxFileSize(t *testing.T) {
	ctx := context.Background()
	fs := New(Options{MaxFileSize: 4})
	h, err := fs.Open(ctx, "f", vfs.OpenOptions{Flags: linux.O_WRONLY | linux.O_CREAT, Mode: 0644})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Release(ctx)
	if n, err := h.PWrite(ctx, []byte("abcdef"), 1); n != 3 || err != linuxerr.EFBIG {
		t.Errorf("PWrite across the limit: got (%d, %v), want (3, EFBIG)", n, err)
	}
	if n, err := h.PWrite(ctx, []byte("g"), 4); n != 0 || err != linuxerr.EFBIG {
		t.Errorf("PWrite at the limit: got (%d, %v), want (0, EFBIG)", n, err)
	}
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	fs := New(Options{MaxFileSize: 8})
	if err := fs.WriteFile("f", []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	a, err := fs.Open(ctx, "f", vfs.OpenOptions{Flags: linux.O_WRONLY | linux.O_APPEND})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Release(ctx)
	b, err := fs.Open(ctx, "f", vfs.OpenOptions{Flags: linux.O_WRONLY | linux.O_APPEND})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Release(ctx)

	if n, end, err := a.Append(ctx, []byte("cd")); n != 2 || end != 4 || err != nil {
		t.Errorf("first Append = (%d, %d, %v), want (2, 4, nil)", n, end, err)
	}
	if n, end, err := b.Append(ctx, []byte("ef")); n != 2 || end != 6 || err != nil {
		t.Errorf("second Append = (%d, %d, %v), want (2, 6, nil)", n, end, err)
	}
	if n, end, err := a.Append(ctx, []byte("ghij")); n != 2 || end != 8 || err != linuxerr.EFBIG {
		t.Errorf("Append across the limit = (%d, %d, %v), want (2, 8, EFBIG)", n, end, err)
	}
	data, _ := fs.ReadFile("f")
	if diff := cmp.Diff("abcdefgh", string(data)); diff != "" {
		t.Errorf("contents mismatch (-want +got):\n%s", diff)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	fs := New(Options{})
	for _, name := range []string{"b", "c", "a"} {
		if err := fs.WriteFile(name, []byte(name+name), 0600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	h, err := fs.Open(ctx, "c", vfs.OpenOptions{Flags: linux.O_RDONLY})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := fs.Remove("b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	want := []FileInfo{
		{Name: "a", Mode: 0600, Size: 2},
		{Name: "c", Mode: 0600, Size: 2, Handles: 1},
	}
	if diff := cmp.Diff(want, fs.List()); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
	h.Release(ctx)
	if err := fs.Remove("b"); err != linuxerr.ENOENT {
		t.Errorf("second Remove = %v, want ENOENT", err)
	}
}
