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

package probe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMounts(t *testing.T) {
	sample := "/dev/mapper/freedom /mnt/pdz ext4 rw,relatime 0 0\n" +
		"tmpfs /tmp tmpfs rw,nosuid 0 0\n" +
		"garbage-line-with-too-few-fields\n"

	entries, err := parseMounts(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, MountEntry{Source: "/dev/mapper/freedom", Mountpoint: "/mnt/pdz", FSType: "ext4"}, entries[0])
	assert.Equal(t, MountEntry{Source: "tmpfs", Mountpoint: "/tmp", FSType: "tmpfs"}, entries[1])
}
