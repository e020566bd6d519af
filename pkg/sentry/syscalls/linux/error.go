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

package linux

import (
	"io"
	"sync"
	"time"

	"gvisor.dev/fdcore/pkg/errors/linuxerr"
	"gvisor.dev/fdcore/pkg/log"
	"gvisor.dev/fdcore/pkg/metric"
	"gvisor.dev/fdcore/pkg/sentry/kernel"
	"gvisor.dev/fdcore/pkg/sentry/vfs"
)

var (
	partialResultMetric = metric.MustCreateNewUint64Metric("/syscalls/partial_result", "Whether or not a partial result has occurred for this sandbox.")
	partialResultOnce   sync.Once
	partialResultLogger = log.BasicRateLimitedLogger(time.Minute)
)

// handleIOError handles special error cases for partial results. For some
// errors, we may consume the error and return only the partial read/write.
//
// op and f are used only for logging.
func handleIOError(t *kernel.Task, partialResult bool, err error, op string, f *vfs.FileDescription) error {
	switch err {
	case nil:
		// Typical successful syscall.
		return nil
	case io.EOF:
		// EOF is always consumed. If this is a partial read/write
		// (result != 0), the application will see that, otherwise
		// they will see 0.
		return nil
	}

	if !partialResult {
		// Typical syscall error.
		return err
	}

	switch {
	case linuxerr.Equals(linuxerr.EINTR, err):
		// Syscall interrupted, but completed a partial read/write. Since
		// we have a partial read/write, we consume the error and return
		// the partial result.
		return nil
	case linuxerr.Equals(linuxerr.EFAULT, err):
		// EFAULT is only shown the user if nothing was read/written. If
		// we read something (this case), they see a partial read/write.
		// They will then presumably try again with an incremented
		// buffer, which will EFAULT with result == 0.
		return nil
	case linuxerr.Equals(linuxerr.EPIPE, err):
		// Writes to a stream will return EPIPE if the other side is
		// gone. The partial write is returned. EPIPE will be returned on
		// the next call.
		return nil
	case linuxerr.Equals(linuxerr.ENOSPC, err), linuxerr.Equals(linuxerr.EFBIG, err):
		// The storage filled up part way. The next write reports it.
		return nil
	case linuxerr.Equals(linuxerr.EAGAIN, err):
		// Would block, but completed a partial read/write.
		return nil
	}

	// An unknown error is encountered with a partial read/write.
	partialResultLogger.Warningf("Invalid request partialResult %v and err (type %T) %v for %s operation on %s", partialResult, err, err, op, f)
	partialResultOnce.Do(func() { partialResultMetric.Increment() })
	return nil
}
