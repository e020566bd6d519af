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
	"gvisor.dev/fdcore/pkg/metric"
)

// Metrics are the file description counters exported by package metric.
var Metrics = struct {
	Opens      *metric.Uint64Metric
	Releases   *metric.Uint64Metric
	Reads      *metric.Uint64Metric
	ReadBytes  *metric.Uint64Metric
	Writes     *metric.Uint64Metric
	WriteBytes *metric.Uint64Metric
}{
	Opens:      metric.MustCreateNewUint64Metric("/fs/opens", "Number of file opens."),
	Releases:   metric.MustCreateNewUint64Metric("/fs/releases", "Number of open file descriptions destroyed."),
	Reads:      metric.MustCreateNewUint64Metric("/fs/reads", "Number of storage reads."),
	ReadBytes:  metric.MustCreateNewUint64Metric("/fs/read_bytes", "Number of bytes read from storage."),
	Writes:     metric.MustCreateNewUint64Metric("/fs/writes", "Number of storage writes."),
	WriteBytes: metric.MustCreateNewUint64Metric("/fs/write_bytes", "Number of bytes written to storage."),
}
