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

package vfs_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/fdcore/pkg/abi/linux"
	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/sentry/fsimpl/faultfs"
	"gvisor.dev/fdcore/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

func openFile(t *testing.T, s vfs.Storage, path string, flags uint32) *vfs.FileDescription {
	t.Helper()
	ctx := context.Background()
	fd, err := vfs.Open(ctx, s, path, vfs.OpenOptions{Flags: flags, Mode: 0644})
	if err != nil {
		t.Fatalf("Open(%q, %s): %v", path, linux.OpenFlagsString(flags), err)
	}
	t.Cleanup(func() { fd.DecRef(ctx) })
	return fd
}

func TestValidateOpenFlags(t *testing.T) {
	for _, tc := range []struct {
		flags uint32
		want  error
	}{
		{flags: linux.O_RDONLY},
		{flags: linux.O_WRONLY | linux.O_CREAT | linux.O_TRUNC},
		{flags: linux.O_RDWR | linux.O_APPEND | linux.O_CLOEXEC},
		{flags: linux.O_ACCMODE, want: linuxerr.EINVAL},
		{flags: linux.O_RDONLY | 040000, want: linuxerr.EINVAL},
	} {
		if got := vfs.ValidateOpenFlags(tc.flags); got != tc.want {
			t.Errorf("ValidateOpenFlags(%s) = %v, want %v", linux.OpenFlagsString(tc.flags), got, tc.want)
		}
	}
}

func TestReadAdvancesOffset(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New(memfs.Options{})
	if err := fs.WriteFile("f", []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}
	fd := openFile(t, fs, "f", linux.O_RDONLY)

	var got []string
	buf := make([]byte, 4)
	for {
		n, err := fd.Read(ctx, buf)
		got = append(got, string(buf[:n]))
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if diff := cmp.Diff([]string{"hell", "o wo", "rld"}, got); diff != "" {
		t.Errorf("Read chunks mismatch (-want +got):\n%s", diff)
	}
	if n, err := fd.Read(ctx, buf); n != 0 || err != io.EOF {
		t.Errorf("Read at EOF = (%d, %v), want (0, EOF)", n, err)
	}
	if off, err := fd.Seek(ctx, 0, linux.SEEK_CUR); off != 11 || err != nil {
		t.Errorf("Seek(0, SEEK_CUR) = (%d, %v), want (11, nil)", off, err)
	}
}

func TestPReadDoesNotMoveOffset(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New(memfs.Options{})
	if err := fs.WriteFile("f", []byte("abcdef"), 0644); err != nil {
		t.Fatal(err)
	}
	fd := openFile(t, fs, "f", linux.O_RDONLY)
	buf := make([]byte, 3)
	if n, err := fd.PRead(ctx, buf, 2); n != 3 || err != nil || string(buf) != "cde" {
		t.Fatalf("PRead = (%d, %v, %q), want (3, nil, \"cde\")", n, err, buf)
	}
	if n, _ := fd.Read(ctx, buf); n != 3 || string(buf) != "abc" {
		t.Errorf("Read after PRead = (%d, %q), want (3, \"abc\")", n, buf)
	}
	if _, err := fd.PRead(ctx, buf, -1); err != linuxerr.EINVAL {
		t.Errorf("PRead(-1) = %v, want EINVAL", err)
	}
}

func TestAccessMode(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New(memfs.Options{})
	ro := openFile(t, fs, "f", linux.O_RDONLY|linux.O_CREAT)
	wo := openFile(t, fs, "f", linux.O_WRONLY)

	if _, err := ro.Write(ctx, []byte("x")); err != linuxerr.EBADF {
		t.Errorf("Write on O_RDONLY = %v, want EBADF", err)
	}
	if _, err := ro.PWrite(ctx, []byte("x"), 0); err != linuxerr.EBADF {
		t.Errorf("PWrite on O_RDONLY = %v, want EBADF", err)
	}
	if _, err := wo.Read(ctx, make([]byte, 1)); err != linuxerr.EBADF {
		t.Errorf("Read on O_WRONLY = %v, want EBADF", err)
	}
	if ro.IsWritable() || !ro.IsReadable() || wo.IsReadable() || !wo.IsWritable() {
		t.Errorf("mode bits: ro=(%t,%t) wo=(%t,%t)", ro.IsReadable(), ro.IsWritable(), wo.IsReadable(), wo.IsWritable())
	}
	if got, want := ro.StatusFlags(), uint32(linux.O_RDONLY); got != want {
		t.Errorf("StatusFlags() = %#o, want %#o (creation flags dropped)", got, want)
	}
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New(memfs.Options{})
	if err := fs.WriteFile("log", []byte("one\n"), 0644); err != nil {
		t.Fatal(err)
	}
	a := openFile(t, fs, "log", linux.O_WRONLY|linux.O_APPEND)
	b := openFile(t, fs, "log", linux.O_RDWR)

	if off, _ := a.Seek(ctx, 0, linux.SEEK_CUR); off != 4 {
		t.Errorf("initial append offset = %d, want 4", off)
	}
	// Another description extends the file; the append write must land after it.
	if _, err := b.PWrite(ctx, []byte("two\n"), 4); err != nil {
		t.Fatalf("PWrite: %v", err)
	}
	if _, err := a.Seek(ctx, 0, linux.SEEK_SET); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if n, err := a.Write(ctx, []byte("three\n")); n != 6 || err != nil {
		t.Fatalf("Write = (%d, %v), want (6, nil)", n, err)
	}
	if off, _ := a.Seek(ctx, 0, linux.SEEK_CUR); off != 14 {
		t.Errorf("offset after append = %d, want 14", off)
	}
	data, _ := fs.ReadFile("log")
	if got, want := string(data), "one\ntwo\nthree\n"; got != want {
		t.Errorf("contents = %q, want %q", got, want)
	}
}

func TestConcurrentAppendAcrossDescriptions(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New(memfs.Options{})
	const (
		writers    = 8
		iterations = 500
		recordLen  = 8
	)
	fds := make([]*vfs.FileDescription, writers)
	for i := range fds {
		fds[i] = openFile(t, fs, "log", linux.O_WRONLY|linux.O_CREAT|linux.O_APPEND)
	}
	var g errgroup.Group
	for w, fd := range fds {
		g.Go(func() error {
			record := bytes.Repeat([]byte{'a' + byte(w)}, recordLen)
			for i := 0; i < iterations; i++ {
				if n, err := fd.Write(ctx, record); n != recordLen || err != nil {
					return fmt.Errorf("Write = (%d, %v)", n, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	data, err := fs.ReadFile("log")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(data), writers*iterations*recordLen; got != want {
		t.Fatalf("file size = %d, want %d", got, want)
	}
	for off := 0; off < len(data); off += recordLen {
		if rec := data[off : off+recordLen]; !bytes.Equal(rec, bytes.Repeat(rec[:1], recordLen)) {
			t.Fatalf("record at %d = %q is interleaved", off, rec)
		}
	}
	for _, fd := range fds {
		if off, _ := fd.Seek(ctx, 0, linux.SEEK_CUR); off%recordLen != 0 || off == 0 {
			t.Errorf("offset after appends = %d, want the end of a record", off)
		}
	}
}

func TestSeek(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New(memfs.Options{})
	if err := fs.WriteFile("f", make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	fd := openFile(t, fs, "f", linux.O_RDONLY)
	for _, tc := range []struct {
		off     int64
		whence  int32
		want    int64
		wantErr error
	}{
		{off: 10, whence: linux.SEEK_SET, want: 10},
		{off: 5, whence: linux.SEEK_CUR, want: 15},
		{off: -20, whence: linux.SEEK_CUR, wantErr: linuxerr.EINVAL},
		{off: -1, whence: linux.SEEK_END, want: 99},
		{off: 50, whence: linux.SEEK_END, want: 150},
		{off: 0, whence: 3, wantErr: linuxerr.EINVAL},
		{off: -1, whence: linux.SEEK_SET, wantErr: linuxerr.EINVAL},
	} {
		got, err := fd.Seek(ctx, tc.off, tc.whence)
		if err != tc.wantErr || (err == nil && got != tc.want) {
			t.Errorf("Seek(%d, %d) = (%d, %v), want (%d, %v)", tc.off, tc.whence, got, err, tc.want, tc.wantErr)
		}
	}
	// Failed seeks leave the offset where the last good one put it.
	if off, _ := fd.Seek(ctx, 0, linux.SEEK_CUR); off != 150 {
		t.Errorf("offset = %d, want 150", off)
	}
}

func TestFailedIOKeepsOffset(t *testing.T) {
	ctx := context.Background()
	mfs := memfs.New(memfs.Options{})
	if err := mfs.WriteFile("f", []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	fs := faultfs.New(mfs)
	fd := openFile(t, fs, "f", linux.O_RDWR)
	if _, err := fd.Seek(ctx, 2, linux.SEEK_SET); err != nil {
		t.Fatal(err)
	}

	fs.AddRule(faultfs.Rule{Op: faultfs.OpRead, Err: linuxerr.EIO, Count: 1})
	fs.AddRule(faultfs.Rule{Op: faultfs.OpWrite, Err: linuxerr.ENOSPC, Count: 1})
	if n, err := fd.Read(ctx, make([]byte, 4)); n != 0 || err != linuxerr.EIO {
		t.Errorf("Read = (%d, %v), want (0, EIO)", n, err)
	}
	if n, err := fd.Write(ctx, []byte("xy")); n != 0 || err != linuxerr.ENOSPC {
		t.Errorf("Write = (%d, %v), want (0, ENOSPC)", n, err)
	}
	if off, _ := fd.Seek(ctx, 0, linux.SEEK_CUR); off != 2 {
		t.Errorf("offset after failures = %d, want 2", off)
	}

	// A short write advances the offset by the bytes that made it.
	fs.AddRule(faultfs.Rule{Op: faultfs.OpWrite, Err: linuxerr.ENOSPC, Short: true, Count: 1})
	if n, err := fd.Write(ctx, []byte("abcd")); n != 2 || err != linuxerr.ENOSPC {
		t.Errorf("short Write = (%d, %v), want (2, ENOSPC)", n, err)
	}
	if off, _ := fd.Seek(ctx, 0, linux.SEEK_CUR); off != 4 {
		t.Errorf("offset after short write = %d, want 4", off)
	}
}

func TestNonErrnoStorageErrorIsEIO(t *testing.T) {
	ctx := context.Background()
	fs := faultfs.New(memfs.New(memfs.Options{}))
	fs.AddRule(faultfs.Rule{Op: faultfs.OpOpen, Err: errors.New("disk on fire")})
	if _, err := vfs.Open(ctx, fs, "f", vfs.OpenOptions{Flags: linux.O_RDONLY | linux.O_CREAT}); err != linuxerr.EIO {
		t.Errorf("Open = %v, want EIO", err)
	}
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New(memfs.Options{})
	fd, err := vfs.Open(ctx, fs, "f", vfs.OpenOptions{Flags: linux.O_RDWR | linux.O_CREAT, Mode: 0644})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	handles := func() int64 { return fs.List()[0].Handles }

	fd.IncRef()
	fd.DecRef(ctx)
	if got := handles(); got != 1 {
		t.Fatalf("handles after IncRef/DecRef = %d, want 1", got)
	}
	if !fd.TryIncRef() {
		t.Fatalf("TryIncRef on live description failed")
	}
	fd.DecRef(ctx)
	fd.DecRef(ctx)
	if got := handles(); got != 0 {
		t.Errorf("handles after last DecRef = %d, want 0", got)
	}
	if fd.TryIncRef() {
		t.Errorf("TryIncRef on released description succeeded")
	}
}

func TestConcurrentReadsUseDistinctOffsets(t *testing.T) {
	ctx := context.Background()
	const chunk, chunks = 8, 64
	var want bytes.Buffer
	for i := 0; i < chunks; i++ {
		want.WriteString(strings.Repeat(string(rune('a'+i%26)), chunk))
	}
	fs := memfs.New(memfs.Options{})
	if err := fs.WriteFile("f", want.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	fd := openFile(t, fs, "f", linux.O_RDONLY)

	results := make([][]byte, chunks)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			buf := make([]byte, chunk)
			n, err := fd.Read(ctx, buf)
			if err != nil {
				return err
			}
			results[i] = buf[:n]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	// Every chunk must be read exactly once, whatever the interleaving.
	seen := make(map[string]int)
	for _, r := range results {
		seen[string(r)]++
	}
	wantSeen := make(map[string]int)
	for i := 0; i < chunks; i++ {
		wantSeen[string(want.Bytes()[i*chunk:(i+1)*chunk])]++
	}
	if diff := cmp.Diff(wantSeen, seen); diff != "" {
		t.Errorf("chunks read mismatch (-want +got):\n%s", diff)
	}
}

func TestStream(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	in := strings.NewReader("input")
	fd := vfs.NewStreamFileDescription(ctx, "stdio", in, &out, linux.O_RDWR)
	defer fd.DecRef(ctx)

	if _, err := fd.Seek(ctx, 0, linux.SEEK_SET); err != linuxerr.ESPIPE {
		t.Errorf("Seek = %v, want ESPIPE", err)
	}
	if _, err := fd.PRead(ctx, make([]byte, 1), 0); err != linuxerr.ESPIPE {
		t.Errorf("PRead = %v, want ESPIPE", err)
	}
	buf := make([]byte, 16)
	if n, err := fd.Read(ctx, buf); n != 5 || err != nil || string(buf[:n]) != "input" {
		t.Errorf("Read = (%d, %v, %q), want (5, nil, \"input\")", n, err, buf[:n])
	}
	if _, err := fd.Write(ctx, []byte("out")); err != nil {
		t.Errorf("Write: %v", err)
	}
	if _, err := fd.Write(ctx, []byte("put")); err != nil {
		t.Errorf("Write: %v", err)
	}
	if got := out.String(); got != "output" {
		t.Errorf("stream output = %q, want %q", got, "output")
	}
}
