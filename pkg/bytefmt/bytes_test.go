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

package bytefmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteSize(t *testing.T) {
	assert.Equal(t, "0", ByteSize(0))
	assert.Equal(t, "1K", ByteSize(1024))
	assert.Equal(t, "1G", ByteSize(Gigabyte))
	assert.Equal(t, "1.5G", ByteSize(uint64(1.5*Gigabyte)))
}

func TestToBytes(t *testing.T) {
	v, err := ToBytes("1G")
	require.NoError(t, err)
	assert.Equal(t, uint64(Gigabyte), v)

	_, err = ToBytes("not-a-size")
	assert.Error(t, err)
}
