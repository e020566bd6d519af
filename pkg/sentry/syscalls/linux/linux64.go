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

// Package linux provides syscall tables for amd64 Linux.
package linux

import (
	"gvisor.dev/fdcore/pkg/sentry/kernel"
	"gvisor.dev/fdcore/pkg/sentry/syscalls"
)

// AMD64 is a table of the Linux amd64 syscalls implemented by the open-file
// layer, with their Linux syscall numbers.
var AMD64 = &kernel.SyscallTable{
	Name: "linux/amd64",
	Table: map[uintptr]kernel.Syscall{
		0:  syscalls.Supported("read", Read),
		1:  syscalls.Supported("write", Write),
		2:  syscalls.Supported("open", Open),
		3:  syscalls.Supported("close", Close),
		8:  syscalls.Supported("lseek", Lseek),
		17: syscalls.Supported("pread64", Pread64),
		18: syscalls.Supported("pwrite64", Pwrite64),
		32: syscalls.Supported("dup", Dup),
		33: syscalls.Supported("dup2", Dup2),
	},
}

func init() {
	if err := AMD64.Init(); err != nil {
		panic(err)
	}
}
