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

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "/.space", cfg.Root)
	assert.Equal(t, "freedom", cfg.MDName)
	assert.Equal(t, "freedom", cfg.MapperName)
	assert.Equal(t, uint64(1<<30), cfg.DataPageSize)
	assert.Equal(t, 5, cfg.KeyCount)
	assert.Equal(t, 5, cfg.HeaderCount)
}

func TestLoadWithNoConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default().Root, cfg.Root)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Setenv("PDE_MD_NAME", "override"))
	defer os.Unsetenv("PDE_MD_NAME")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.MDName)
}

func TestLoadHonorsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := "root: /tmp/custom-space\nkey_count: 9\n"
	require.NoError(t, os.WriteFile(dir+"/pde-config.yaml", []byte(content), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-space", cfg.Root)
	assert.Equal(t, 9, cfg.KeyCount)
}
