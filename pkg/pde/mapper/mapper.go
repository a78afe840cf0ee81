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

// Package mapper is the PDE Mapper (component H): it opens and closes
// the dm-crypt mapping for a chosen (header, key, keyfile_offset)
// tuple, and can optionally format the mapped device.
package mapper

import (
	"context"
	"fmt"
	"os"

	"github.com/shadowvault/pde/pkg/pde/pdeerr"
	"github.com/shadowvault/pde/pkg/pde/toolexec"
	"github.com/shadowvault/pde/pkg/pdelog"
)

const luksKeySizeBits = 512

// Mapper opens the dm-crypt mapping against mdPath under mapperName.
type Mapper struct {
	mdPath     string
	mapperName string
	invoker    *toolexec.Invoker
	open       bool
}

// New returns a Mapper targeting mdPath (e.g. "/dev/md/freedom") with
// dm-crypt device name mapperName (default "freedom").
func New(mdPath, mapperName string, invoker *toolexec.Invoker) *Mapper {
	return &Mapper{mdPath: mdPath, mapperName: mapperName, invoker: invoker}
}

// DevicePath is where the mapping appears once open.
func (m *Mapper) DevicePath() string {
	return "/dev/mapper/" + m.mapperName
}

// IsOpen reports whether this Mapper believes the mapping is currently
// open. It reflects only in-process state, not a kernel probe; callers
// that need ground truth should check DevicePath() for existence.
func (m *Mapper) IsOpen() bool {
	return m.open
}

// Open validates that headerPath and keyPath exist, then attempts
// luksOpen with the given keyfile offset. A failed open means the
// tuple was wrong and is reported as WrongTuple, never surfaced as a
// generic tool failure.
func (m *Mapper) Open(ctx context.Context, headerPath, keyPath string, keyfileOffset uint64, bless bool) error {
	if _, err := os.Stat(headerPath); err != nil {
		return fmt.Errorf("mapper: header %s: %w", headerPath, err)
	}
	if _, err := os.Stat(keyPath); err != nil {
		return fmt.Errorf("mapper: key %s: %w", keyPath, err)
	}

	_, err := m.invoker.Run(ctx, "cryptsetup", "luksOpen", m.mdPath, m.mapperName,
		fmt.Sprintf("--key-size=%d", luksKeySizeBits),
		"--key-file", keyPath,
		fmt.Sprintf("--keyfile-offset=%d", keyfileOffset),
		"--header", headerPath)
	if err != nil {
		return &pdeerr.WrongTuple{Header: headerPath, Key: keyPath, Offset: keyfileOffset}
	}
	m.open = true
	pdelog.Infof("mapper: opened %s via header=%s key=%s offset=%d", m.DevicePath(), headerPath, keyPath, keyfileOffset)

	if bless {
		if _, err := m.invoker.Run(ctx, "mkfs", "-t", "ext4", m.DevicePath()); err != nil {
			return err
		}
		pdelog.Infof("mapper: blessed %s as ext4", m.DevicePath())
	}
	return nil
}

// Close is idempotent: a no-op if not open, otherwise luksClose.
func (m *Mapper) Close(ctx context.Context) error {
	if !m.open {
		return nil
	}
	if _, err := m.invoker.Run(ctx, "cryptsetup", "luksClose", m.mapperName); err != nil {
		return err
	}
	m.open = false
	pdelog.Infof("mapper: closed %s", m.DevicePath())
	return nil
}
