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

// Package mdarray is the MD Array Controller (component D): it
// creates/assembles/stops the RAID-0 device built from the Backing-Page
// Store's loop devices, and can tell whether an existing MD device is
// "ours" by walking its sysfs slaves back to our root.
package mdarray

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shadowvault/pde/pkg/pde/pdeerr"
	"github.com/shadowvault/pde/pkg/pde/pdemodel"
	"github.com/shadowvault/pde/pkg/pde/probe"
	"github.com/shadowvault/pde/pkg/pde/toolexec"
	"github.com/shadowvault/pde/pkg/pdelog"
)

// sysBlock is a var, not a const, so tests can point it at a fake sysfs
// tree instead of the real /sys/block.
var sysBlock = "/sys/block"

// Controller manages the MD RAID-0 device built from our loop devices.
type Controller struct {
	root    string
	invoker *toolexec.Invoker
	probe   *probe.Probe
}

// New returns a Controller whose ownership checks are scoped to root.
func New(root string, invoker *toolexec.Invoker, p *probe.Probe) *Controller {
	return &Controller{root: root, invoker: invoker, probe: p}
}

// Start implements spec.md §4.D: adopt an already-ours array, else create
// (on a virgin page set) or assemble (on a metadata-bearing set).
func (c *Controller) Start(ctx context.Context, name string, set pdemodel.BackingSet) (pdemodel.MDArray, error) {
	if len(set.Pages) < 1 {
		return pdemodel.MDArray{}, &pdeerr.PreconditionUnmet{What: "no backing pages"}
	}

	if existing, err := c.Status(ctx); err == nil && existing != nil {
		if existing.Name == name {
			pdelog.Infof("mdarray: adopting existing array %s", name)
			return *existing, nil
		}
		return pdemodel.MDArray{}, &pdeerr.PreconditionUnmet{What: fmt.Sprintf("our pages already back array %s, not %s", existing.Name, name)}
	}

	if c.probe.Exists(devMDPath(name)) {
		return pdemodel.MDArray{}, &pdeerr.PreconditionUnmet{What: fmt.Sprintf("md name %s already in use", name)}
	}

	magic, err := c.probe.Magic(ctx, set.Pages[0].Path)
	if err != nil {
		return pdemodel.MDArray{}, err
	}

	if probe.IsVirgin(magic) {
		args := []string{"--create", devMDPath(name), "--level=0", fmt.Sprintf("--raid-devices=%d", len(set.LoopDevices))}
		args = append(args, set.LoopDevices...)
		if _, err := c.invoker.Run(ctx, "mdadm", args...); err != nil {
			return pdemodel.MDArray{}, err
		}
		pdelog.Infof("mdarray: created %s from %d members", name, len(set.LoopDevices))
	} else {
		args := append([]string{"--assemble", devMDPath(name)}, set.LoopDevices...)
		if _, err := c.invoker.Run(ctx, "mdadm", args...); err != nil {
			return pdemodel.MDArray{}, &pdeerr.ArrayInconsistent{Expected: len(set.LoopDevices), Found: -1}
		}
		pdelog.Infof("mdarray: assembled %s from %d members", name, len(set.LoopDevices))
	}

	arr, err := c.Status(ctx)
	if err != nil {
		return pdemodel.MDArray{}, err
	}
	if arr == nil {
		return pdemodel.MDArray{}, &pdeerr.PreconditionUnmet{What: "array did not appear after start"}
	}
	return *arr, nil
}

// Stop stops the MD device. Idempotent over the already-absent case.
func (c *Controller) Stop(ctx context.Context, name string) error {
	if !c.probe.Exists(devMDPath(name)) {
		return nil
	}
	_, err := c.invoker.Run(ctx, "mdadm", "--stop", devMDPath(name))
	return err
}

// Status walks /sys/block/*/md looking for an array whose every slave
// resolves (via the path in its loop/backing_file attribute) to a page
// inside our root.
// Returns nil, nil if no such array exists.
func (c *Controller) Status(ctx context.Context) (*pdemodel.MDArray, error) {
	entries, err := c.probe.ListDir(sysBlock)
	if err != nil {
		return nil, fmt.Errorf("mdarray: listing %s: %w", sysBlock, err)
	}

	for _, dev := range entries {
		mdDir := filepath.Join(sysBlock, dev, "md")
		if !c.probe.IsDir(mdDir) {
			continue
		}

		slavesDir := filepath.Join(sysBlock, dev, "slaves")
		slaveNames, err := c.probe.ListDir(slavesDir)
		if err != nil || len(slaveNames) == 0 {
			continue
		}

		var members []string
		ours := true
		for _, slave := range slaveNames {
			backingFile := filepath.Join(sysBlock, slave, "loop", "backing_file")
			path, err := c.probe.ReadFile(backingFile)
			if err != nil || !strings.HasPrefix(path, c.root) {
				ours = false
				break
			}
			members = append(members, "/dev/"+slave)
		}
		if !ours {
			continue
		}

		arrayName := dev
		if nameFile := filepath.Join(mdDir, "array_name"); c.probe.Exists(nameFile) {
			if n, err := c.probe.ReadFile(nameFile); err == nil && n != "" {
				arrayName = n
			}
		}

		var totalSectors uint64
		if sizeStr, err := c.probe.ReadFile(filepath.Join(sysBlock, dev, "size")); err == nil {
			if v, err := strconv.ParseUint(sizeStr, 10, 64); err == nil {
				totalSectors = v
			}
		}

		return &pdemodel.MDArray{
			Name:          arrayName,
			DevicePath:    "/dev/" + dev,
			MemberDevices: members,
			TotalSectors:  totalSectors,
		}, nil
	}
	return nil, nil
}

func devMDPath(name string) string {
	return "/dev/md/" + name
}
