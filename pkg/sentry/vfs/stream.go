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

package vfs

import (
	"io"
	"sync"

	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/errors/linuxerr"
)

// StreamHandle is a Handle over an io.Reader and/or io.Writer, such as a
// terminal. Offsets are ignored, so FileDescriptions wrapping it should set
// FileDescriptionOptions.DenySeek.
type StreamHandle struct {
	// mu serializes access to R and W.
	mu sync.Mutex

	// R is the source of reads. If nil, reads return EBADF.
	R io.Reader

	// W is the destination of writes. If nil, writes return EBADF.
	W io.Writer
}

// PRead implements Handle.PRead.
func (s *StreamHandle) PRead(ctx context.Context, dst []byte, off int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.R == nil {
		return 0, linuxerr.EBADF
	}
	n, err := s.R.Read(dst)
	return int64(n), err
}

// PWrite implements Handle.PWrite.
func (s *StreamHandle) PWrite(ctx context.Context, src []byte, off int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.W == nil {
		return 0, linuxerr.EBADF
	}
	n, err := s.W.Write(src)
	return int64(n), err
}

// Append implements Handle.Append. Streams have no end, so the returned end
// is always 0.
func (s *StreamHandle) Append(ctx context.Context, src []byte) (int64, int64, error) {
	n, err := s.PWrite(ctx, src, 0)
	return n, 0, err
}

// Size implements Handle.Size. Streams have no size.
func (s *StreamHandle) Size(ctx context.Context) (int64, error) {
	return 0, nil
}

// Release implements Handle.Release. The underlying reader and writer are
// owned by the caller and are not closed.
func (s *StreamHandle) Release(ctx context.Context) {}

// NewStreamFileDescription returns a FileDescription for a stream. flags
// selects the access mode.
func NewStreamFileDescription(ctx context.Context, name string, r io.Reader, w io.Writer, flags uint32) *FileDescription {
	fd, err := NewFileDescription(ctx, &StreamHandle{R: r, W: w}, name, flags, FileDescriptionOptions{DenySeek: true})
	if err != nil {
		// Only reachable in O_APPEND mode without DenySeek.
		panic(err)
	}
	return fd
}
