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

package kernel

import (
	"fmt"
	"sort"

	"gvisor.dev/fdcore/pkg/metric"
	"gvisor.dev/fdcore/pkg/sentry/arch"
)

// SyscallFn is a syscall implementation.
type SyscallFn func(t *Task, args arch.SyscallArguments) (uintptr, error)

// Syscall includes the syscall implementation and compatibility information.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation of the syscall.
	Fn SyscallFn
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Name identifies the ABI, such as "linux/amd64".
	Name string

	// Table is the collection of functions, indexed by syscall number.
	Table map[uintptr]Syscall

	// Missing is called when a syscall is not in Table. If nil, ENOSYS is
	// returned.
	Missing func(t *Task, sysno uintptr, args arch.SyscallArguments) (uintptr, error)

	// calls counts dispatched syscalls by name. It is set by Init.
	calls *metric.Uint64Metric

	// errors counts syscalls that returned an error, by name. It is set by
	// Init.
	errors *metric.Uint64Metric
}

// Init registers the table's metrics. It must be called once, before the
// table is used by a Kernel.
func (s *SyscallTable) Init() error {
	names := s.Names()
	if len(names) == 0 {
		return fmt.Errorf("syscall table %q is empty", s.Name)
	}
	var err error
	field := metric.NewField("syscall", names)
	if s.calls, err = metric.NewUint64Metric("/syscalls/calls", "Number of syscalls dispatched.", field); err != nil {
		return err
	}
	if s.errors, err = metric.NewUint64Metric("/syscalls/errors", "Number of syscalls that returned an error.", field); err != nil {
		return err
	}
	return nil
}

// Lookup returns the syscall with number sysno, if any.
func (s *SyscallTable) Lookup(sysno uintptr) (Syscall, bool) {
	sc, ok := s.Table[sysno]
	return sc, ok
}

// LookupName returns the number of the syscall called name.
func (s *SyscallTable) LookupName(name string) (uintptr, bool) {
	for sysno, sc := range s.Table {
		if sc.Name == name {
			return sysno, true
		}
	}
	return 0, false
}

// Numbers returns the syscall numbers in the table, sorted.
func (s *SyscallTable) Numbers() []uintptr {
	nums := make([]uintptr, 0, len(s.Table))
	for sysno := range s.Table {
		nums = append(nums, sysno)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// Names returns the syscall names in the table, sorted.
func (s *SyscallTable) Names() []string {
	names := make([]string, 0, len(s.Table))
	for _, sc := range s.Table {
		names = append(names, sc.Name)
	}
	sort.Strings(names)
	return names
}

// account records one call to sc.
func (s *SyscallTable) account(sc Syscall, err error) {
	if s.calls == nil {
		return
	}
	s.calls.Increment(sc.Name)
	if err != nil {
		s.errors.Increment(sc.Name)
	}
}
