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

package probe

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// MountEntry is one row of /proc/mounts.
type MountEntry struct {
	Source     string
	Mountpoint string
	FSType     string
}

// Mounts reads the current mount table.
func (p *Probe) Mounts() ([]MountEntry, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMounts(f)
}

func parseMounts(r io.Reader) ([]MountEntry, error) {
	var entries []MountEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, MountEntry{Source: fields[0], Mountpoint: fields[1], FSType: fields[2]})
	}
	return entries, scanner.Err()
}

// Mounted reports whether mountpoint currently appears in /proc/mounts.
func (p *Probe) Mounted(mountpoint string) (bool, error) {
	entries, err := p.Mounts()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Mountpoint == mountpoint {
			return true, nil
		}
	}
	return false, nil
}
