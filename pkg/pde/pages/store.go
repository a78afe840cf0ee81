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

// Package pages is the Backing-Page Store (component C): it owns the root
// directory, allocates and enumerates sparse backing files, and keeps
// their loop-device attachment in sync. Every mutator ends by
// re-deriving both pages and loop devices from ground truth — nothing is
// ever returned half-updated, mirroring the teacher's
// pkg/funclet/storage/loop.recycleLoopDevice re-derive-don't-cache idiom.
package pages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/shadowvault/pde/pkg/pde/pdeerr"
	"github.com/shadowvault/pde/pkg/pde/pdemodel"
	"github.com/shadowvault/pde/pkg/pde/probe"
	"github.com/shadowvault/pde/pkg/pde/toolexec"
	"github.com/shadowvault/pde/pkg/pdelog"
)

// Store manages the BackingPage set under one root directory.
type Store struct {
	root      string
	blockSize uint64
	invoker   *toolexec.Invoker
	probe     *probe.Probe
}

// New returns a Store rooted at root. blockSize is the dd block size used
// when zero-filling non-simulated allocations.
func New(root string, blockSize uint64, invoker *toolexec.Invoker, p *probe.Probe) *Store {
	return &Store{root: root, blockSize: blockSize, invoker: invoker, probe: p}
}

// Allocation is the result of Allocate: the pages created. When
// simulated, the pages are created as sparse files without the dd
// zero-fill.
type Allocation struct {
	Pages     []pdemodel.BackingPage
	Simulated bool
}

// Allocate implements spec.md §4.C's allocation arithmetic and file
// creation. free is read fresh from statvfs(root) on every call.
func (s *Store) Allocate(ctx context.Context, pageSize uint64, limit int, simulated bool) (Allocation, error) {
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return Allocation{}, fmt.Errorf("pages: creating root: %w", err)
	}

	space, err := s.probe.Statvfs(s.root)
	if err != nil {
		return Allocation{}, fmt.Errorf("pages: statvfs: %w", err)
	}
	free := space.AvailableBytes()

	var toCreate uint64
	if limit == 0 {
		toCreate = free / pageSize
	} else {
		toCreate = uint64(limit)
	}

	if toCreate < 1 || pageSize*toCreate > free {
		needed := pageSize
		if toCreate >= 1 {
			needed = pageSize * toCreate
		}
		return Allocation{}, &pdeerr.InsufficientSpace{Needed: needed, Available: free}
	}

	pagesOut := make([]pdemodel.BackingPage, 0, toCreate)
	for i := uint64(0); i < toCreate; i++ {
		name := uuid.NewString()
		path := filepath.Join(s.root, name)

		if simulated {
			if err := sparseCreate(path, pageSize); err != nil {
				return Allocation{}, fmt.Errorf("pages: simulated allocate %s: %w", name, err)
			}
		} else {
			blocks := (pageSize + s.blockSize - 1) / s.blockSize
			if _, err := s.invoker.Run(ctx, "dd", "if=/dev/zero",
				fmt.Sprintf("of=%s", path),
				fmt.Sprintf("bs=%d", s.blockSize),
				fmt.Sprintf("count=%d", blocks)); err != nil {
				return Allocation{}, err
			}
		}
		pdelog.Infof("pages: allocated %s (%d bytes, simulated=%v)", name, pageSize, simulated)
		pagesOut = append(pagesOut, pdemodel.BackingPage{Name: name, Path: path, SizeBytes: pageSize})
	}

	return Allocation{Pages: pagesOut, Simulated: simulated}, nil
}

func sparseCreate(path string, size uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if size == 0 {
		return nil
	}
	if _, err := f.Seek(int64(size-1), 0); err != nil {
		return err
	}
	if _, err := f.Write([]byte{0}); err != nil {
		return err
	}
	return nil
}

// Rediscover re-derives the BackingSet from ground truth: every filename
// under root matching the UUIDv4 shape is a page, and its current loop
// device (if any) comes from `losetup --associated`. Idempotent and
// crash-safe by construction — it never trusts a prior call's result.
func (s *Store) Rediscover(ctx context.Context, attachMissing bool) (pdemodel.BackingSet, error) {
	names, err := s.probe.ListDir(s.root)
	if err != nil {
		return pdemodel.BackingSet{}, fmt.Errorf("pages: listing root: %w", err)
	}

	var pageNames []string
	for _, n := range names {
		if _, err := uuid.Parse(n); err == nil {
			pageNames = append(pageNames, n)
		}
	}
	sort.Strings(pageNames)

	set := pdemodel.BackingSet{Root: s.root}
	for _, name := range pageNames {
		path := filepath.Join(s.root, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		loopDev, err := s.associatedLoopDevice(ctx, path)
		if err != nil {
			return pdemodel.BackingSet{}, err
		}
		if loopDev == "" && attachMissing {
			result, err := s.invoker.Run(ctx, "losetup", "-f", "--show", path)
			if err != nil {
				return pdemodel.BackingSet{}, err
			}
			loopDev = strings.TrimSpace(result.Stdout)
			pdelog.Infof("pages: attached %s to %s", name, loopDev)
		}

		page := pdemodel.BackingPage{
			Name:       name,
			Path:       path,
			SizeBytes:  uint64(info.Size()),
			LoopDevice: loopDev,
		}
		set.Pages = append(set.Pages, page)
		if loopDev != "" {
			set.LoopDevices = append(set.LoopDevices, loopDev)
		}
	}
	return set, nil
}

// associatedLoopDevice shells `losetup --associated <path>` and parses the
// leading "/dev/loopN:" token, the way pkg/funclet/device/loop's
// GetLoopDeviceMap parses `losetup -a` output.
func (s *Store) associatedLoopDevice(ctx context.Context, path string) (string, error) {
	result, err := s.invoker.Run(ctx, "losetup", "--associated", path)
	if err != nil {
		if _, ok := err.(*pdeerr.ToolFailure); ok {
			// losetup exits non-zero when nothing is associated.
			return "", nil
		}
		return "", err
	}
	line := strings.TrimSpace(result.Stdout)
	if line == "" {
		return "", nil
	}
	dev := strings.SplitN(line, ":", 2)[0]
	return strings.TrimSpace(dev), nil
}

// Deactivate detaches every currently-attached loop device. Per-device
// failures are logged and skipped; the returned set reflects what is
// actually still attached afterward.
func (s *Store) Deactivate(ctx context.Context) (pdemodel.BackingSet, error) {
	current, err := s.Rediscover(ctx, false)
	if err != nil {
		return pdemodel.BackingSet{}, err
	}
	for _, page := range current.Pages {
		if page.LoopDevice == "" {
			continue
		}
		if _, err := s.invoker.Run(ctx, "losetup", "-d", page.LoopDevice); err != nil {
			pdelog.Errorf("pages: detach %s (%s) failed: %v", page.Name, page.LoopDevice, err)
			continue
		}
		pdelog.Infof("pages: detached %s from %s", page.Name, page.LoopDevice)
	}
	return s.Rediscover(ctx, false)
}

// Remove detaches everything, then unlinks every backing file. Missing
// files are tolerated (the spec's "errno.NOENT" case, deliberately
// implemented as tolerate-missing rather than a literal ENOENT check).
func (s *Store) Remove(ctx context.Context) error {
	if _, err := s.Deactivate(ctx); err != nil {
		return err
	}
	set, err := s.Rediscover(ctx, false)
	if err != nil {
		return err
	}
	for _, page := range set.Pages {
		if err := os.Remove(page.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("pages: removing %s: %w", page.Name, err)
		}
	}
	return nil
}
