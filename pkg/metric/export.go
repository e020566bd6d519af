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


package metric

import (
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// ExporterPrefix is prepended to every exported metric name.
const ExporterPrefix = "fdcore"

// PrometheusName converts a metric name such as "/fd/opens" into the
// Prometheus name "fdcore_fd_opens".
func PrometheusName(name string) string {
	return ExporterPrefix + strings.ReplaceAll(name, "/", "_")
}

// WriteText writes every registered metric to w in the Prometheus text
// exposition format.
func WriteText(w io.Writer) error {
	for _, mf := range metricFamilies() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func metricFamilies() []*dto.MetricFamily {
	allMetricsMu.Lock()
	metrics := make([]*Uint64Metric, 0, len(allMetrics))
	for _, m := range allMetrics {
		metrics = append(metrics, m)
	}
	allMetricsMu.Unlock()
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].name < metrics[j].name })

	families := make([]*dto.MetricFamily, 0, len(metrics))
	for _, m := range metrics {
		mf := &dto.MetricFamily{
			Name: ptr(PrometheusName(m.name)),
			Help: ptr(m.description),
			Type: dto.MetricType_COUNTER.Enum(),
		}
		for key := range m.fields {
			pm := &dto.Metric{
				Counter: &dto.Counter{Value: ptr(float64(m.fields[key].Load()))},
			}
			values := m.fieldMapper.keyToMultiField(key)
			for i, f := range m.fieldMapper.fields {
				pm.Label = append(pm.Label, &dto.LabelPair{
					Name:  ptr(f.name),
					Value: ptr(values[i]),
				})
			}
			mf.Metric = append(mf.Metric, pm)
		}
		families = append(families, mf)
	}
	return families
}

func ptr[T any](v T) *T {
	return &v
}
