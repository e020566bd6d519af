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

// Package usermem governs access to user memory.
package usermem

import (
	"bytes"

	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/hostarch"
)

// IO provides access to the contents of a virtual memory space.
type IO interface {
	// CopyOut copies len(src) bytes from src to the memory mapped at addr. It
	// returns the number of bytes copied. If the number of bytes copied is <
	// len(src), it returns a non-nil error explaining why.
	CopyOut(ctx context.Context, addr hostarch.Addr, src []byte, opts IOOpts) (int, error)

	// CopyIn copies len(dst) bytes from the memory mapped at addr to dst.
	// It returns the number of bytes copied. If the number of bytes copied is
	// < len(dst), it returns a non-nil error explaining why.
	CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte, opts IOOpts) (int, error)
}

// IOOpts contains options applicable to all IO methods.
type IOOpts struct {
	// If IgnorePermissions is true, read-only regions may be written. BytesIO
	// has no protections and ignores it.
	IgnorePermissions bool
}

// copyStringIncrement is the maximum number of bytes that are copied from
// virtual memory at a time by CopyStringIn.
const copyStringIncrement = 64

// CopyStringIn tuning parameters, defined outside that function for tests.
var (
	copyStringMaxInitBufLen = 256
)

// CopyStringIn copies a NUL-terminated string of unknown length from the
// memory mapped at addr in uio and returns it as a string (not including the
// trailing NUL). If the length of the string, including the terminating NUL,
// would exceed maxlen, CopyStringIn returns the string truncated to maxlen and
// ENAMETOOLONG.
//
// Preconditions: maxlen >= 0.
func CopyStringIn(ctx context.Context, uio IO, addr hostarch.Addr, maxlen int, opts IOOpts) (string, error) {
	initLen := maxlen
	if initLen > copyStringMaxInitBufLen {
		initLen = copyStringMaxInitBufLen
	}
	buf := make([]byte, initLen)
	var done int
	for done < maxlen {
		// Read up to copyStringIncrement bytes at a time.
		readlen := copyStringIncrement
		if readlen > maxlen-done {
			readlen = maxlen - done
		}
		start, ok := addr.AddLength(uint64(done))
		if !ok {
			return string(buf[:done]), linuxerr.EFAULT
		}
		if _, ok := start.AddLength(uint64(readlen)); !ok {
			return string(buf[:done]), linuxerr.EFAULT
		}
		// Expand buf as needed.
		if len(buf) < done+readlen {
			newBufLen := len(buf) * 2
			if newBufLen > maxlen {
				newBufLen = maxlen
			}
			if newBufLen < done+readlen {
				newBufLen = done + readlen
			}
			newBuf := make([]byte, newBufLen)
			copy(newBuf, buf[:done])
			buf = newBuf
		}
		n, err := uio.CopyIn(ctx, start, buf[done:done+readlen], opts)
		// Look for the terminating zero byte, which may have occurred before
		// hitting err.
		if i := bytes.IndexByte(buf[done:done+n], byte(0)); i >= 0 {
			return string(buf[:done+i]), nil
		}

		done += n
		if err != nil {
			return string(buf[:done]), err
		}
	}
	return string(buf[:done]), linuxerr.ENAMETOOLONG
}

// CopyInBytes copies exactly len(dst) bytes from addr. Unlike CopyStringIn it
// does not interpret the contents, so NUL bytes are copied like any other.
func CopyInBytes(ctx context.Context, uio IO, addr hostarch.Addr, dst []byte) (int, error) {
	if _, ok := addr.AddLength(uint64(len(dst))); !ok {
		return 0, linuxerr.EFAULT
	}
	return uio.CopyIn(ctx, addr, dst, IOOpts{})
}

// CopyOutBytes copies len(src) bytes to addr.
func CopyOutBytes(ctx context.Context, uio IO, addr hostarch.Addr, src []byte) (int, error) {
	if _, ok := addr.AddLength(uint64(len(src))); !ok {
		return 0, linuxerr.EFAULT
	}
	return uio.CopyOut(ctx, addr, src, IOOpts{})
}
