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

// Package faultfs provides a vfs.Storage wrapper that injects errors, for
// testing error paths in the layers above storage.
package faultfs

import (
	"fmt"
	"strings"
	"sync"

	"gvisor.dev/fdcore/pkg/context"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

// Op identifies a storage operation.
type Op int

// Operations that rules can match.
const (
	OpOpen Op = iota
	OpRead
	OpWrite
	OpSize
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case OpOpen:
		return "open"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSize:
		return "size"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Rule describes one injected fault.
type Rule struct {
	// Op is the operation the rule applies to.
	Op Op

	// Path matches objects whose path contains it. Empty matches every
	// object.
	Path string

	// Err is returned by the failing call.
	Err error

	// After is the number of matching calls that succeed before the rule
	// starts failing.
	After int

	// Count is the number of times the rule fails. Zero means no limit.
	Count int

	// If Short is set, a failing read or write transfers half of the
	// requested bytes before returning Err.
	Short bool
}

type ruleState struct {
	Rule
	seen   int
	failed int
}

// fire reports whether the rule fails this call. Requires Filesystem.mu.
func (r *ruleState) fire() bool {
	r.seen++
	if r.seen <= r.After {
		return false
	}
	if r.Count > 0 && r.failed >= r.Count {
		return false
	}
	r.failed++
	return true
}

// Filesystem implements vfs.Storage by forwarding to another Storage and
// failing the calls that match its rules.
type Filesystem struct {
	storage vfs.Storage

	mu       sync.Mutex
	rules    []*ruleState
	injected int
}

// New returns a Filesystem wrapping storage with no rules.
func New(storage vfs.Storage) *Filesystem {
	return &Filesystem{storage: storage}
}

// AddRule adds r. Rules are checked in the order they were added and the
// first one that fires wins.
func (fs *Filesystem) AddRule(r Rule) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.rules = append(fs.rules, &ruleState{Rule: r})
}

// Reset removes all rules.
func (fs *Filesystem) Reset() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.rules = nil
}

// Injected returns the number of faults injected so far.
func (fs *Filesystem) Injected() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.injected
}

// check returns the rule that fails this call, or nil.
func (fs *Filesystem) check(op Op, path string) *Rule {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, r := range fs.rules {
		if r.Op != op || !strings.Contains(path, r.Path) {
			continue
		}
		if r.fire() {
			fs.injected++
			rule := r.Rule
			return &rule
		}
	}
	return nil
}

// Open implements vfs.Storage.Open.
func (fs *Filesystem) Open(ctx context.Context, path string, opts vfs.OpenOptions) (vfs.Handle, error) {
	if r := fs.check(OpOpen, path); r != nil {
		ctx.Debugf("faultfs: failing open of %q: %v", path, r.Err)
		return nil, r.Err
	}
	h, err := fs.storage.Open(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return &handle{Handle: h, fs: fs, path: path}, nil
}

type handle struct {
	vfs.Handle
	fs   *Filesystem
	path string
}

// PRead implements vfs.Handle.PRead.
func (h *handle) PRead(ctx context.Context, dst []byte, off int64) (int64, error) {
	r := h.fs.check(OpRead, h.path)
	if r == nil {
		return h.Handle.PRead(ctx, dst, off)
	}
	ctx.Debugf("faultfs: failing read of %q: %v", h.path, r.Err)
	if !r.Short || len(dst) < 2 {
		return 0, r.Err
	}
	n, err := h.Handle.PRead(ctx, dst[:len(dst)/2], off)
	if err != nil {
		return n, err
	}
	return n, r.Err
}

// PWrite implements vfs.Handle.PWrite.
func (h *handle) PWrite(ctx context.Context, src []byte, off int64) (int64, error) {
	r := h.fs.check(OpWrite, h.path)
	if r == nil {
		return h.Handle.PWrite(ctx, src, off)
	}
	ctx.Debugf("faultfs: failing write of %q: %v", h.path, r.Err)
	if !r.Short || len(src) < 2 {
		return 0, r.Err
	}
	n, err := h.Handle.PWrite(ctx, src[:len(src)/2], off)
	if err != nil {
		return n, err
	}
	return n, r.Err
}

// Append implements vfs.Handle.Append.
func (h *handle) Append(ctx context.Context, src []byte) (int64, int64, error) {
	r := h.fs.check(OpWrite, h.path)
	if r == nil {
		return h.Handle.Append(ctx, src)
	}
	ctx.Debugf("faultfs: failing append to %q: %v", h.path, r.Err)
	if !r.Short || len(src) < 2 {
		return 0, 0, r.Err
	}
	n, end, err := h.Handle.Append(ctx, src[:len(src)/2])
	if err != nil {
		return n, end, err
	}
	return n, end, r.Err
}

// Size implements vfs.Handle.Size.
func (h *handle) Size(ctx context.Context) (int64, error) {
	if r := h.fs.check(OpSize, h.path); r != nil {
		return 0, r.Err
	}
	return h.Handle.Size(ctx)
}
