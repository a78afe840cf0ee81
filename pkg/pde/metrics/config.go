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

package metrics

import "fmt"

type metricType string

const (
	typeCounter   metricType = "counter"
	typeGauge     metricType = "gauge"
	typeHistogram metricType = "histogram"
)

// metricConfig describes one registrable metric.
type metricConfig struct {
	index        string
	name         string
	labels       []string
	helpTemplate string
	buckets      []float64
	metricType   metricType
}

func (m *metricConfig) validate() error {
	if len(m.index) == 0 {
		return fmt.Errorf("metrics: index is required")
	}
	if len(m.name) == 0 {
		return fmt.Errorf("metrics: name is required")
	}
	return nil
}
