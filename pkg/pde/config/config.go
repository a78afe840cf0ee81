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

// Package config loads the configuration surface of spec.md §6 with
// Viper, following the retrieval pack's own viper-config idiom
// (deploymenttheory-go-apfs/internal/disk.LoadDMGConfig): defaults set
// programmatically, an optional config file, and PDE_-prefixed
// environment variable overrides.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the recognized settings table from spec.md §6.
type Config struct {
	Root               string `mapstructure:"root"`
	MDName             string `mapstructure:"md_name"`
	MapperName         string `mapstructure:"mapper_name"`
	DataPageSize       uint64 `mapstructure:"data_pagesize"`
	KeyCount           int    `mapstructure:"key_count"`
	HeaderCount        int    `mapstructure:"header_count"`
	KeyfileSize        uint64 `mapstructure:"keyfile_size"`
	KeySize            uint64 `mapstructure:"key_size"`
	LuksSectorSize     uint64 `mapstructure:"luks_sector_size"`
	SafezoneContentURL string `mapstructure:"safezone_content_url"`
}

const (
	defaultRoot               = "/.space"
	defaultMDName              = "freedom"
	defaultMapperName          = "freedom"
	defaultDataPageSize        = 1 << 30 // 1 GiB
	defaultKeyCount            = 5
	defaultHeaderCount         = 5
	defaultKeyfileSize         = 8192
	defaultKeySize             = 512
	defaultLuksSectorSize      = 512
	defaultSafezoneContentURL  = "https://cdn.kernel.org/pub/linux/kernel/v3.x/linux-3.19.8.tar.xz"
)

// Load reads configuration from (in ascending priority) built-in
// defaults, an optional "pde-config" file on the search path, and
// PDE_-prefixed environment variables.
func Load(extraSearchPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("pde-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pde")
	v.AddConfigPath("$HOME/.pde")
	for _, p := range extraSearchPaths {
		v.AddConfigPath(p)
	}

	v.SetDefault("root", defaultRoot)
	v.SetDefault("md_name", defaultMDName)
	v.SetDefault("mapper_name", defaultMapperName)
	v.SetDefault("data_pagesize", defaultDataPageSize)
	v.SetDefault("key_count", defaultKeyCount)
	v.SetDefault("header_count", defaultHeaderCount)
	v.SetDefault("keyfile_size", defaultKeyfileSize)
	v.SetDefault("key_size", defaultKeySize)
	v.SetDefault("luks_sector_size", defaultLuksSectorSize)
	v.SetDefault("safezone_content_url", defaultSafezoneContentURL)

	v.SetEnvPrefix("PDE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading pde config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding pde config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in defaults without touching the filesystem
// or environment, useful for tests.
func Default() *Config {
	return &Config{
		Root:               defaultRoot,
		MDName:             defaultMDName,
		MapperName:         defaultMapperName,
		DataPageSize:       defaultDataPageSize,
		KeyCount:           defaultKeyCount,
		HeaderCount:        defaultHeaderCount,
		KeyfileSize:        defaultKeyfileSize,
		KeySize:            defaultKeySize,
		LuksSectorSize:     defaultLuksSectorSize,
		SafezoneContentURL: defaultSafezoneContentURL,
	}
}
