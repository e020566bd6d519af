// Copyright 2021 The gVisor Authors.
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

package linuxerr

import (
	goerrors "errors"
	"io/fs"

	"golang.org/x/sys/unix"
	"gvisor.dev/fdcore/pkg/errors"
)

var errorMap = map[error]*errors.Error{
	fs.ErrNotExist:   ENOENT,
	fs.ErrExist:      EEXIST,
	fs.ErrPermission: EACCES,
	fs.ErrInvalid:    EINVAL,
	fs.ErrClosed:     EBADF,
}

// errorUnwrappers is an array of unwrap functions to extract typed errors.
var errorUnwrappers = []func(error) (*errors.Error, bool){
	func(err error) (*errors.Error, bool) {
		var e *errors.Error
		if goerrors.As(err, &e) {
			return e, true
		}
		return nil, false
	},
	func(err error) (*errors.Error, bool) {
		var e unix.Errno
		if goerrors.As(err, &e) && e != 0 {
			return ErrorFromUnix(e).(*errors.Error), true
		}
		return nil, false
	},
}

// AddErrorUnwrapper registers an unwrap method that can extract a concrete
// error from a typed, but not initialized, error.
func AddErrorUnwrapper(unwrap func(e error) (*errors.Error, bool)) {
	errorUnwrappers = append(errorUnwrappers, unwrap)
}

// TranslateError translates errors to errnos, it will return false if
// the error was not registered.
func TranslateError(from error) (*errors.Error, bool) {
	if err, ok := errorMap[from]; ok {
		return err, true
	}
	// Try to unwrap the error if we couldn't match an error exactly. This
	// might mean that a package has its own error type.
	for _, unwrap := range errorUnwrappers {
		if err, ok := unwrap(from); ok {
			return err, true
		}
	}
	for target, err := range errorMap {
		if goerrors.Is(from, target) {
			return err, true
		}
	}
	return nil, false
}

// ToErrno converts an arbitrary error into an *errors.Error, falling back to
// EIO for errors that carry no errno.
func ToErrno(err error) *errors.Error {
	if err == nil {
		return noError
	}
	if e, ok := TranslateError(err); ok {
		return e
	}
	return EIO
}
