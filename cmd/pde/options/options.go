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

// Package options is the flat pflag.FlagSet options struct the teacher
// uses for cmd/funclet (cmd/funclet/options.FuncletOptions), adapted to
// the settings table of spec.md §6.
package options

import (
	"strconv"

	"github.com/spf13/pflag"

	"github.com/shadowvault/pde/pkg/bytefmt"
	"github.com/shadowvault/pde/pkg/pde/config"
)

// byteSizeValue is a pflag.Value over a uint64 byte count that additionally
// accepts the teacher's bytefmt suffixed form ("1G", "512M") alongside a
// plain integer, so --page-size 1G and --page-size 1073741824 both work.
type byteSizeValue struct {
	v *uint64
}

func (b *byteSizeValue) String() string {
	if b.v == nil {
		return "0"
	}
	return bytefmt.ByteSize(*b.v)
}

func (b *byteSizeValue) Set(s string) error {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		*b.v = n
		return nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return err
	}
	*b.v = n
	return nil
}

func (b *byteSizeValue) Type() string { return "byteSize" }

// Options holds every flag the pde CLI recognizes, seeded from the
// layered Config and overridable per-invocation.
type Options struct {
	Root               string
	MDName             string
	MapperName         string
	DataPageSize       uint64
	KeyCount           int
	HeaderCount        int
	KeyfileSize        uint64
	KeySize            uint64
	LuksSectorSize     uint64
	SafezoneContentURL string

	Output       string // "table" or "json"
	Confirmed    bool
	Simulated    bool
	PageLimit    int
	MetricsAddr  string
}

// NewOptions seeds an Options from cfg's layered defaults.
func NewOptions(cfg *config.Config) *Options {
	return &Options{
		Root:               cfg.Root,
		MDName:             cfg.MDName,
		MapperName:         cfg.MapperName,
		DataPageSize:       cfg.DataPageSize,
		KeyCount:           cfg.KeyCount,
		HeaderCount:        cfg.HeaderCount,
		KeyfileSize:        cfg.KeyfileSize,
		KeySize:            cfg.KeySize,
		LuksSectorSize:     cfg.LuksSectorSize,
		SafezoneContentURL: cfg.SafezoneContentURL,
		Output:             "table",
		MetricsAddr:        ":9172",
	}
}

// AddFlags registers every flag against fs, following the teacher's
// FuncletOptions.AddFlags shape: one fs.XVar call per field.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Root, "root", o.Root, "backing-page root directory")
	fs.StringVar(&o.MDName, "md-name", o.MDName, "MD RAID-0 array name")
	fs.StringVar(&o.MapperName, "mapper-name", o.MapperName, "dm-crypt mapping name")
	fs.Var(&byteSizeValue{&o.DataPageSize}, "page-size", "backing page size in bytes (accepts suffixes: 1G, 512M)")
	fs.IntVar(&o.KeyCount, "key-count", o.KeyCount, "number of keys to generate")
	fs.IntVar(&o.HeaderCount, "header-count", o.HeaderCount, "number of detached headers to generate")
	fs.Var(&byteSizeValue{&o.KeyfileSize}, "keyfile-size", "keyfile size in bytes (accepts suffixes: 1G, 512M)")
	fs.Var(&byteSizeValue{&o.KeySize}, "key-size", "key slice size in bytes presented to dm-crypt (accepts suffixes)")
	fs.Var(&byteSizeValue{&o.LuksSectorSize}, "luks-sector-size", "LUKS sector size in bytes (accepts suffixes)")
	fs.StringVar(&o.SafezoneContentURL, "safezone-content-url", o.SafezoneContentURL, "URL of innocuous content to seed the safe-zone with")

	fs.StringVar(&o.Output, "output", o.Output, "output format: table or json")
	fs.BoolVar(&o.Confirmed, "yes", o.Confirmed, "confirm an irreversible operation")
	fs.BoolVar(&o.Simulated, "simulated", o.Simulated, "simulate page allocation without zero-filling")
	fs.IntVar(&o.PageLimit, "limit", o.PageLimit, "maximum number of pages to allocate (0 = fill available space)")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "listen address for metrics-serve")
}
