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

package options

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvault/pde/pkg/pde/config"
)

func TestAddFlagsAcceptsSuffixedByteSizes(t *testing.T) {
	opts := NewOptions(config.Default())
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--page-size=2G", "--keyfile-size=8192"}))
	assert.Equal(t, uint64(2<<30), opts.DataPageSize)
	assert.Equal(t, uint64(8192), opts.KeyfileSize)
}

func TestByteSizeValueRejectsGarbage(t *testing.T) {
	opts := NewOptions(config.Default())
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)

	assert.Error(t, fs.Parse([]string{"--page-size=not-a-size"}))
}
