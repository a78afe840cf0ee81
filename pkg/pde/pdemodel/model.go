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

// Package pdemodel holds the plain data types of spec.md §3. None of them
// carry cross-references to each other — lookups always go back through
// the Filesystem Probe, per Design Notes §9.
package pdemodel

// BackingPage is one sparse file under root, optionally attached to a
// loop device.
type BackingPage struct {
	Name       string // UUIDv4
	Path       string
	SizeBytes  uint64
	LoopDevice string // "" if not currently attached
}

// BackingSet is the set of BackingPages under one root, plus the loop
// devices of the attached pages. Both follow sorted page-name order; that
// is the order mdadm --create receives (the MD stripe order). It is not
// read back from sysfs.
type BackingSet struct {
	Root        string
	Pages       []BackingPage
	LoopDevices []string // in sorted page-name order
}

// Active reports spec.md §3's BackingSet invariant.
func (s BackingSet) Active() bool {
	return len(s.Pages) == len(s.LoopDevices) && len(s.Pages) > 0
}

// MDArray is the assembled/created striped device.
type MDArray struct {
	Name          string
	DevicePath    string // kernel device node, e.g. /dev/md127
	MemberDevices []string
	TotalSectors  uint64
}

// Key is a keyfile under <root>/.k.
type Key struct {
	Name string // UUIDv4
	Path string
}

// Header is a detached LUKS1 header under <root>/.h.
type Header struct {
	Name          string // UUIDv4
	Path          string
	PayloadOffset uint64 // sectors
}

// EnvironmentState is the derived, never-cached snapshot spec.md §3
// defines. It is reconstructed on demand from the Filesystem Probe, the
// Backing-Page Store, the MD Array Controller, and the PDE Mapper.
type EnvironmentState struct {
	BackingActive bool
	MDName        string // empty if no MD device
	LUKSOpen      bool
}
