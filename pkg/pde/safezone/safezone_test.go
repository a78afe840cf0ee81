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

package safezone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The mkfs.f2fs and mount calls in Populate need a real block device and
// kernel filesystem support, so this only pins the sector arithmetic that
// S1 depends on ("safe-zone size ~= 1 GiB - 1 MiB").
func TestSafezoneSectorArithmetic(t *testing.T) {
	assert.Equal(t, uint64(1<<30)-(1<<20), uint64(safezoneBytes))
	assert.Equal(t, safezoneBytes/sectorSize, 2095104)
	assert.Equal(t, uint64(800<<20), uint64(minFreeBytes))
}

func TestNewCapturesContentURL(t *testing.T) {
	b := New(nil, nil, "https://example.invalid/pack.tar")
	assert.Equal(t, "https://example.invalid/pack.tar", b.contentURL)
}
