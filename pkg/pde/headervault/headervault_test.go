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

package headervault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvault/pde/pkg/pde/keyvault"
	"github.com/shadowvault/pde/pkg/pde/pdeerr"
	"github.com/shadowvault/pde/pkg/pde/toolexec"
)

func TestListAndRemove(t *testing.T) {
	dir := t.TempDir()
	invoker := toolexec.New()
	keys := keyvault.New(dir, invoker)
	v := New(dir, "/dev/md/test", invoker, keys)

	require.NoError(t, os.MkdirAll(v.Dir(), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(v.Dir(), "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"), []byte("header"), 0o600))

	names, err := v.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"}, names)

	err = v.Remove(false)
	require.Error(t, err)
	var refused *pdeerr.RefusedUnconfirmed
	require.ErrorAs(t, err, &refused)

	require.NoError(t, v.Remove(true))
	names, err = v.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListOnMissingDirReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	invoker := toolexec.New()
	keys := keyvault.New(dir, invoker)
	v := New(dir, "/dev/md/test", invoker, keys)

	names, err := v.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
