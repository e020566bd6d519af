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

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that the metric name is not a slash-separated
	// path of lowercase words.
	ErrInvalidName = errors.New("metric name is invalid")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// nameRegexp matches metric names such as "/fd/opens".
var nameRegexp = regexp.MustCompile(`^(/[a-z][a-z0-9_]*)+$`)

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored. It is cumulative: values only ever increase.
type Uint64Metric struct {
	name        string
	description string

	// fields is the map of field-value combination index keys to Uint64
	// counters.
	fields []atomic.Uint64

	// fieldMapper is used to generate index keys for the fields array (above)
	// based on field value combinations, and vice-versa.
	fieldMapper fieldMapper
}

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper provides multi-dimensional fields to a single unique integer
// key.
type fieldMapper struct {
	// fields is a list of Field objects, which importantly include individual
	// Field names which are used to perform the keyToMultiField function; and
	// allowedValues for each field type which are used to perform the lookup
	// function.
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible field
	// combinations.
	numFieldCombinations int
}

// newFieldMapper returns a new fieldMapper for the given set of fields.
func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		// Disallow fields with no possible values. Passing in a
		// no-allowed-values field is probably a mistake.
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		numFieldCombinations *= len(f.allowedValues)
		if numFieldCombinations > math.MaxUint32 || numFieldCombinations < 0 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}
	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup looks up a key within the fieldMapper. The returned key is an index
// into the per-metric counter slice. It returns false if a value is not
// allowed or the number of values does not match the number of fields.
func (m fieldMapper) lookup(values ...string) (int, bool) {
	if len(values) != len(m.fields) {
		return 0, false
	}
	idx := 0
	remaining := m.numFieldCombinations
outer:
	for i, val := range values {
		for valIdx, allowed := range m.fields[i].allowedValues {
			if val == allowed {
				remaining /= len(m.fields[i].allowedValues)
				idx += remaining * valIdx
				continue outer
			}
		}
		return 0, false
	}
	return idx, true
}

// keyToMultiField is the reverse of lookup.
func (m fieldMapper) keyToMultiField(key int) []string {
	if len(m.fields) == 0 {
		return nil
	}
	values := make([]string, len(m.fields))
	remaining := m.numFieldCombinations
	for i, f := range m.fields {
		remaining /= len(f.allowedValues)
		values[i] = f.allowedValues[key/remaining]
		key %= remaining
	}
	return values
}

var (
	// allMetricsMu protects allMetrics.
	allMetricsMu sync.Mutex

	// allMetrics are the registered metrics, keyed by name.
	allMetrics = make(map[string]*Uint64Metric)
)

// NewUint64Metric creates and registers a new cumulative metric with the given
// name. fields, if any, break the metric down by the given dimensions.
func NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	if !nameRegexp.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	mapper, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	allMetricsMu.Lock()
	defer allMetricsMu.Unlock()
	if _, ok := allMetrics[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
		fields:      make([]atomic.Uint64, mapper.numFieldCombinations),
		fieldMapper: mapper,
	}
	allMetrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %v", name, err))
	}
	return m
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	key, ok := m.fieldMapper.lookup(fieldValues...)
	if !ok {
		return 0
	}
	return m.fields[key].Load()
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.IncrementBy(1, fieldValues...)
}

// IncrementBy increments the metric by v. Disallowed field values panic, as
// they are a programming error.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	key, ok := m.fieldMapper.lookup(fieldValues...)
	if !ok {
		panic(fmt.Sprintf("metric %s: disallowed field values %q", m.name, fieldValues))
	}
	m.fields[key].Add(v)
}

// Sample is one value of one metric.
type Sample struct {
	Name   string
	Fields map[string]string
	Value  uint64
}

// Snapshot returns the non-zero values of every registered metric, sorted by
// name and then by field values.
func Snapshot() []Sample {
	allMetricsMu.Lock()
	names := make([]string, 0, len(allMetrics))
	for name := range allMetrics {
		names = append(names, name)
	}
	metrics := make([]*Uint64Metric, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		metrics = append(metrics, allMetrics[name])
	}
	allMetricsMu.Unlock()

	var samples []Sample
	for _, m := range metrics {
		samples = append(samples, m.samples()...)
	}
	return samples
}

func (m *Uint64Metric) samples() []Sample {
	var samples []Sample
	for key := range m.fields {
		v := m.fields[key].Load()
		if v == 0 {
			continue
		}
		s := Sample{Name: m.name, Value: v}
		if values := m.fieldMapper.keyToMultiField(key); values != nil {
			s.Fields = make(map[string]string, len(values))
			for i, f := range m.fieldMapper.fields {
				s.Fields[f.name] = values[i]
			}
		}
		samples = append(samples, s)
	}
	return samples
}
