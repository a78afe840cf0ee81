/*
 * Copyright (c) 2020 Baidu, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics instruments the core with Prometheus collectors,
// adapted from the teacher's pkg/util/logs/metric registration idiom
// (index -> vec maps keyed off a declared list of metricConfig) but
// trimmed to the handful of PDE-relevant series: tool-invocation
// counts/latency and the three gauges mirroring EnvironmentState.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pde"

var (
	counterVecMap   = make(map[string]*prometheus.CounterVec)
	gaugeVecMap     = make(map[string]*prometheus.GaugeVec)
	histogramVecMap = make(map[string]*prometheus.HistogramVec)

	registerOnce sync.Once
)

const (
	IndexToolInvocations = "tool_invocations_total"
	IndexToolDuration    = "tool_duration_seconds"
	IndexBackingActive   = "backing_active"
	IndexMDActive        = "md_active"
	IndexLUKSOpen        = "luks_open"
)

var configs = []metricConfig{
	{
		metricType:   typeCounter,
		index:        IndexToolInvocations,
		name:         IndexToolInvocations,
		labels:       []string{"tool", "result"},
		helpTemplate: "count of external tool invocations by tool and result",
	},
	{
		metricType:   typeHistogram,
		index:        IndexToolDuration,
		name:         IndexToolDuration,
		labels:       []string{"tool"},
		helpTemplate: "external tool invocation duration in seconds",
		buckets:      []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	},
	{
		metricType:   typeGauge,
		index:        IndexBackingActive,
		name:         IndexBackingActive,
		helpTemplate: "1 if the backing-page set is active (pages == loop devices, > 0)",
	},
	{
		metricType:   typeGauge,
		index:        IndexMDActive,
		name:         IndexMDActive,
		helpTemplate: "1 if our MD array is assembled",
	},
	{
		metricType:   typeGauge,
		index:        IndexLUKSOpen,
		name:         IndexLUKSOpen,
		helpTemplate: "1 if the dm-crypt mapping is open",
	},
}

// Register installs every declared collector with the default
// Prometheus registry. Safe to call more than once; registration only
// happens on the first call.
func Register() error {
	var regErr error
	registerOnce.Do(func() {
		for _, c := range configs {
			if err := c.validate(); err != nil {
				regErr = err
				return
			}
			switch c.metricType {
			case typeCounter:
				v := prometheus.NewCounterVec(prometheus.CounterOpts{
					Namespace: namespace,
					Name:      c.name,
					Help:      c.helpTemplate,
				}, c.labels)
				prometheus.MustRegister(v)
				counterVecMap[c.index] = v
			case typeGauge:
				v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      c.name,
					Help:      c.helpTemplate,
				}, c.labels)
				prometheus.MustRegister(v)
				gaugeVecMap[c.index] = v
			case typeHistogram:
				v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      c.name,
					Help:      c.helpTemplate,
					Buckets:   c.buckets,
				}, c.labels)
				prometheus.MustRegister(v)
				histogramVecMap[c.index] = v
			}
		}
	})
	return regErr
}

// Inc increments the named counter, if registered.
func Inc(index string, labels ...string) {
	if v, ok := counterVecMap[index]; ok {
		v.WithLabelValues(labels...).Inc()
	}
}

// Observe records a histogram sample, if registered.
func Observe(index string, value float64, labels ...string) {
	if v, ok := histogramVecMap[index]; ok {
		v.WithLabelValues(labels...).Observe(value)
	}
}

// SetGauge sets a gauge value, if registered.
func SetGauge(index string, value float64, labels ...string) {
	if v, ok := gaugeVecMap[index]; ok {
		v.WithLabelValues(labels...).Set(value)
	}
}

// ObserveToolCall is a convenience wrapper the Tool Invoker uses to
// report both the invocation count and its duration in one call.
func ObserveToolCall(tool, result string, elapsed time.Duration) {
	Inc(IndexToolInvocations, tool, result)
	Observe(IndexToolDuration, elapsed.Seconds(), tool)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetEnvironmentGauges mirrors an EnvironmentState snapshot onto the
// three environment gauges.
func SetEnvironmentGauges(backingActive, mdActive, luksOpen bool) {
	SetGauge(IndexBackingActive, boolToFloat(backingActive))
	SetGauge(IndexMDActive, boolToFloat(mdActive))
	SetGauge(IndexLUKSOpen, boolToFloat(luksOpen))
}
