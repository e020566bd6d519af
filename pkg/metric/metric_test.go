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


package metric

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/expfmt"
)

// reset removes all registered metrics.
func reset() {
	allMetricsMu.Lock()
	defer allMetricsMu.Unlock()
	allMetrics = make(map[string]*Uint64Metric)
}

func TestRegistration(t *testing.T) {
	reset()
	defer reset()

	if _, err := NewUint64Metric("/test/opens", "opens"); err != nil {
		t.Fatalf("NewUint64Metric: %v", err)
	}
	if _, err := NewUint64Metric("/test/opens", "again"); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate NewUint64Metric: got %v, want %v", err, ErrNameInUse)
	}
	if _, err := NewUint64Metric("opens", "no slash"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("NewUint64Metric(\"opens\"): got %v, want %v", err, ErrInvalidName)
	}
	if _, err := NewUint64Metric("/test/empty", "", NewField("f", nil)); !errors.Is(err, ErrFieldHasNoAllowedValues) {
		t.Errorf("empty field: got %v, want %v", err, ErrFieldHasNoAllowedValues)
	}
}

func TestFields(t *testing.T) {
	reset()
	defer reset()

	m := MustCreateNewUint64Metric("/test/calls", "calls",
		NewField("syscall", []string{"open", "read", "write"}),
		NewField("result", []string{"ok", "error"}))
	m.Increment("read", "ok")
	m.IncrementBy(3, "read", "ok")
	m.Increment("write", "error")

	if got := m.Value("read", "ok"); got != 4 {
		t.Errorf("Value(read, ok) = %d, want 4", got)
	}
	if got := m.Value("open", "ok"); got != 0 {
		t.Errorf("Value(open, ok) = %d, want 0", got)
	}
	if got := m.Value("close", "ok"); got != 0 {
		t.Errorf("Value(close, ok) = %d, want 0 for a disallowed value", got)
	}

	want := []Sample{
		{Name: "/test/calls", Fields: map[string]string{"syscall": "read", "result": "ok"}, Value: 4},
		{Name: "/test/calls", Fields: map[string]string{"syscall": "write", "result": "error"}, Value: 1},
	}
	if diff := cmp.Diff(want, Snapshot()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Increment with a disallowed value did not panic")
		}
	}()
	m.Increment("close", "ok")
}

func TestWriteText(t *testing.T) {
	reset()
	defer reset()

	opens := MustCreateNewUint64Metric("/test/opens", "Number of opens.")
	calls := MustCreateNewUint64Metric("/test/calls", "Number of calls.", NewField("syscall", []string{"read", "write"}))
	opens.IncrementBy(2)
	calls.Increment("write")

	var buf bytes.Buffer
	if err := WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	parsed, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("TextToMetricFamilies: %v", err)
	}

	got := make(map[string]float64)
	for name, mf := range parsed {
		for _, m := range mf.GetMetric() {
			key := name
			for _, l := range m.GetLabel() {
				key += "/" + l.GetName() + "=" + l.GetValue()
			}
			got[key] = m.GetCounter().GetValue()
		}
	}
	want := map[string]float64{
		"fdcore_test_opens":               2,
		"fdcore_test_calls/syscall=read":  0,
		"fdcore_test_calls/syscall=write": 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("exported metrics mismatch (-want +got):\n%s", diff)
	}
}
