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

package linuxerr_test

import (
	"fmt"
	"io/fs"
	"os"
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/fdcore/pkg/errors"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
)

func TestErrorFromUnix(t *testing.T) {
	for _, tc := range []struct {
		in   unix.Errno
		want error
	}{
		{in: 0, want: nil},
		{in: unix.ENOENT, want: linuxerr.ENOENT},
		{in: unix.EACCES, want: linuxerr.EACCES},
		{in: unix.EMFILE, want: linuxerr.EMFILE},
		{in: unix.ENAMETOOLONG, want: linuxerr.ENAMETOOLONG},
		// No sentinel; reported as EIO.
		{in: unix.EHWPOISON, want: linuxerr.EIO},
		{in: unix.Errno(4096), want: linuxerr.EIO},
	} {
		t.Run(fmt.Sprintf("%d", tc.in), func(t *testing.T) {
			if got := linuxerr.ErrorFromUnix(tc.in); got != tc.want {
				t.Errorf("ErrorFromUnix(%d) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestEquals(t *testing.T) {
	if !linuxerr.Equals(linuxerr.EBADF, linuxerr.EBADF) {
		t.Errorf("EBADF does not equal itself")
	}
	if !linuxerr.Equals(linuxerr.EBADF, unix.EBADF) {
		t.Errorf("EBADF does not equal unix.EBADF")
	}
	if linuxerr.Equals(linuxerr.EBADF, linuxerr.EMFILE) {
		t.Errorf("EBADF equals EMFILE")
	}
	if linuxerr.Equals(linuxerr.EBADF, nil) {
		t.Errorf("EBADF equals nil")
	}
	var none *errors.Error
	if !linuxerr.Equals(none, nil) {
		t.Errorf("nil does not equal nil")
	}
}

func TestToUnix(t *testing.T) {
	if got := linuxerr.ToUnix(linuxerr.ESPIPE); got != unix.ESPIPE {
		t.Errorf("ToUnix(ESPIPE) = %v, want %v", got, unix.ESPIPE)
	}
	if got := linuxerr.ToUnix(nil); got != 0 {
		t.Errorf("ToUnix(nil) = %v, want 0", got)
	}
	if linuxerr.ToError(nil) != nil {
		t.Errorf("ToError(nil) returned a non-nil error")
	}
}

func TestTranslateError(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   error
		want *errors.Error
		ok   bool
	}{
		{name: "not exist", in: fs.ErrNotExist, want: linuxerr.ENOENT, ok: true},
		{name: "path error", in: &os.PathError{Op: "open", Path: "x", Err: fs.ErrExist}, want: linuxerr.EEXIST, ok: true},
		{name: "wrapped unix", in: fmt.Errorf("pread: %w", unix.EACCES), want: linuxerr.EACCES, ok: true},
		{name: "wrapped linuxerr", in: fmt.Errorf("storage: %w", linuxerr.EISDIR), want: linuxerr.EISDIR, ok: true},
		{name: "opaque", in: fmt.Errorf("disk on fire"), ok: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := linuxerr.TranslateError(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Errorf("TranslateError(%v) = %v, %t, want %v, %t", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
	if got := linuxerr.ToErrno(fmt.Errorf("disk on fire")); got != linuxerr.EIO {
		t.Errorf("ToErrno(opaque) = %v, want EIO", got)
	}
}
