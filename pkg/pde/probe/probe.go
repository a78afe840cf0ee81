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

// Package probe is the Filesystem Probe: pure-read operations over the
// host filesystem, sysfs, and procfs. Nothing in this package mutates
// anything; every call re-derives its answer from ground truth.
package probe

import (
	"context"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/shadowvault/pde/pkg/pde/toolexec"
)

// Probe reads filesystem and kernel state without mutating it.
type Probe struct {
	invoker *toolexec.Invoker
}

// New returns a Probe backed by the given Tool Invoker (used only by
// Magic, which shells to `file -b`).
func New(invoker *toolexec.Invoker) *Probe {
	return &Probe{invoker: invoker}
}

// SpaceInfo mirrors the fields of spec.md's statvfs(path) contract.
type SpaceInfo struct {
	BlockSize  uint64
	AvailBlocks uint64
}

// AvailableBytes returns bavail * frsize for path.
func (s SpaceInfo) AvailableBytes() uint64 {
	return s.BlockSize * s.AvailBlocks
}

// Statvfs returns free-space accounting for path.
func (p *Probe) Statvfs(path string) (SpaceInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return SpaceInfo{}, err
	}
	return SpaceInfo{
		BlockSize:   uint64(st.Frsize),
		AvailBlocks: st.Bavail,
	}, nil
}

// ListDir returns the names of entries directly under path (not recursive).
func (p *Probe) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// ReadFile returns the trimmed contents of path.
func (p *Probe) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// IsDir reports whether path exists and is a directory.
func (p *Probe) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Exists reports whether path exists at all.
func (p *Probe) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Magic classifies the leading bytes of path the way `file -b` would,
// used to tell a zero-filled virgin backing page (reported as "data")
// apart from one already carrying MD metadata.
func (p *Probe) Magic(ctx context.Context, path string) (string, error) {
	result, err := p.invoker.Run(ctx, "file", "-b", path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// IsVirgin reports whether Magic classified path as a generic zero page.
func IsVirgin(magic string) bool {
	return strings.EqualFold(strings.TrimSpace(magic), "data")
}
