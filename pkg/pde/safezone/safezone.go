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

// Package safezone is the Safe-Zone Builder (component E): it formats the
// leading region of the MD device with a log-structured filesystem,
// mounts it, populates it with innocuous content, and unmounts it. A
// download failure is the one documented partial-success outcome in the
// whole core (spec.md §4.E, §7) — the safe-zone is left formatted and
// empty rather than the whole operation failing.
package safezone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shadowvault/pde/pkg/pde/probe"
	"github.com/shadowvault/pde/pkg/pde/randutil"
	"github.com/shadowvault/pde/pkg/pde/toolexec"
	"github.com/shadowvault/pde/pkg/pdelog"
)

const (
	sectorSize    = 512
	safezoneBytes = (1 << 30) - (1 << 20) // 1 GiB - 1 MiB
	minFreeBytes  = 800 << 20            // 800 MiB
)

// Builder populates the safe-zone region of an MD device.
type Builder struct {
	invoker    *toolexec.Invoker
	probe      *probe.Probe
	contentURL string
}

// New returns a Builder that downloads contentURL into freshly formatted
// safe-zones.
func New(invoker *toolexec.Invoker, p *probe.Probe, contentURL string) *Builder {
	return &Builder{invoker: invoker, probe: p, contentURL: contentURL}
}

// Populate formats, mounts, seeds, and unmounts the safe-zone on mdDevice.
func (b *Builder) Populate(ctx context.Context, mdDevice string) error {
	sectors := safezoneBytes / sectorSize
	if _, err := b.invoker.Run(ctx, "mkfs", "-t", "f2fs", "-w", "512", mdDevice, fmt.Sprintf("%d", sectors)); err != nil {
		return err
	}
	pdelog.Infof("safezone: formatted %s (%d sectors f2fs)", mdDevice, sectors)

	mountPoint := filepath.Join(os.TempDir(), randutil.HexSuffix())
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return fmt.Errorf("safezone: creating mount point: %w", err)
	}
	defer os.RemoveAll(mountPoint)

	if _, err := b.invoker.Run(ctx, "mount", mdDevice, mountPoint); err != nil {
		return err
	}
	mounted, err := b.probe.Mounted(mountPoint)
	if err != nil {
		return fmt.Errorf("safezone: checking mount table: %w", err)
	}
	if !mounted {
		return fmt.Errorf("safezone: mount exited 0 but %s is not in the mount table", mountPoint)
	}
	defer func() {
		if _, err := b.invoker.Run(ctx, "umount", mountPoint); err != nil {
			pdelog.Errorf("safezone: unmount %s failed: %v", mountPoint, err)
		}
	}()

	space, err := b.probe.Statvfs(mountPoint)
	if err != nil {
		return fmt.Errorf("safezone: statvfs mount point: %w", err)
	}
	if space.AvailableBytes() < minFreeBytes {
		pdelog.Warnf("safezone: only %d bytes free, skipping content download", space.AvailableBytes())
		return nil
	}

	if err := b.seed(ctx, mountPoint); err != nil {
		// Non-fatal per spec.md §4.E: the safe-zone remains formatted and
		// empty, and the enclosing operation still succeeds.
		pdelog.Errorf("safezone: content download failed, leaving safe-zone empty: %v", err)
	}
	return nil
}

func (b *Builder) seed(ctx context.Context, mountPoint string) error {
	archive := filepath.Join(mountPoint, filepath.Base(b.contentURL))
	if _, err := b.invoker.Run(ctx, "curl", "-fsSL", "-o", archive, b.contentURL); err != nil {
		return err
	}
	if _, err := b.invoker.Run(ctx, "tar", "-x", "-f", archive, "-C", mountPoint); err != nil {
		return err
	}
	if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
		return err
	}
	pdelog.Infof("safezone: seeded %s from %s", mountPoint, b.contentURL)
	return nil
}
