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

// Package headervault is the Header Vault (component G): it generates
// detached LUKS1 headers against the MD array, each bound to a freshly
// generated key at a random key-slice offset and carrying its own
// random payload offset just past the safe-zone.
package headervault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/shadowvault/pde/pkg/pde/keyvault"
	"github.com/shadowvault/pde/pkg/pde/pdeerr"
	"github.com/shadowvault/pde/pkg/pde/pdemodel"
	"github.com/shadowvault/pde/pkg/pde/randutil"
	"github.com/shadowvault/pde/pkg/pde/toolexec"
	"github.com/shadowvault/pde/pkg/pdelog"
)

const (
	subdir            = ".h"
	safezoneSectors   = (1 << 30) / 512         // ceil(1 GiB / 512)
	safezoneEndSector = ((1 << 30) + (1 << 20)) / 512 // ceil((1 GiB + 1 MiB) / 512)
	luksKeySizeBits   = 512
)

// Record is a detached header together with the key material and
// offsets used to produce it. Only the operator, offline, is meant to
// retain this tuple; the vault itself only persists the header file.
type Record struct {
	Header        pdemodel.Header
	KeyName       string
	KeyfileOffset uint64
}

// Vault manages detached LUKS headers under root/.h.
type Vault struct {
	root    string
	mdPath  string
	invoker *toolexec.Invoker
	keys    *keyvault.Vault
}

// New returns a Vault rooted at root, formatting headers against mdPath
// (e.g. "/dev/md/freedom").
func New(root, mdPath string, invoker *toolexec.Invoker, keys *keyvault.Vault) *Vault {
	return &Vault{root: root, mdPath: mdPath, invoker: invoker, keys: keys}
}

// Dir is the hidden sub-root holding detached header files.
func (v *Vault) Dir() string {
	return filepath.Join(v.root, subdir)
}

// Create generates count fresh keys, then one detached header per key
// in shuffled order, each with an independent random keyfile offset and
// payload offset.
func (v *Vault) Create(ctx context.Context, count int, keyfileSize, keySize uint64) ([]Record, error) {
	if err := os.MkdirAll(v.Dir(), 0o700); err != nil {
		return nil, fmt.Errorf("headervault: creating %s: %w", v.Dir(), err)
	}

	keys, err := v.keys.Create(ctx, count, keyfileSize, keySize)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	randutil.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	records := make([]Record, 0, len(keys))
	for _, idx := range order {
		key := keys[idx]
		name := uuid.NewString()
		path := filepath.Join(v.Dir(), name)

		keyfileOffset := randutil.Uint64nBetween(0, keyfileSize-keySize)
		payloadOffset := randutil.Uint64nBetween(safezoneSectors, safezoneEndSector)

		if _, err := v.invoker.Run(ctx, "cryptsetup", "luksFormat", v.mdPath,
			"--type", "luks1", "--batch-mode",
			fmt.Sprintf("--key-size=%d", luksKeySizeBits),
			"--key-file", key.Path,
			fmt.Sprintf("--keyfile-offset=%d", keyfileOffset),
			"--header", path,
			fmt.Sprintf("--align-payload=%d", payloadOffset)); err != nil {
			return nil, err
		}
		pdelog.Infof("headervault: created header %s (key=%s offset=%d payload_offset=%d)", name, key.Name, keyfileOffset, payloadOffset)

		records = append(records, Record{
			Header:        pdemodel.Header{Name: name, Path: path, PayloadOffset: payloadOffset},
			KeyName:       key.Name,
			KeyfileOffset: keyfileOffset,
		})
	}
	return records, nil
}

// List enumerates header names only; the vault does not reveal which
// key or offset produced which header once Create has returned.
func (v *Vault) List() ([]string, error) {
	entries, err := os.ReadDir(v.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("headervault: listing %s: %w", v.Dir(), err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove unlinks every header file, mirroring the Key Vault's
// confirmation discipline.
func (v *Vault) Remove(confirmed bool) error {
	if !confirmed {
		return &pdeerr.RefusedUnconfirmed{Operation: "headervault.remove"}
	}
	entries, err := os.ReadDir(v.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("headervault: listing %s: %w", v.Dir(), err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(v.Dir(), e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("headervault: removing %s: %w", e.Name(), err)
		}
	}
	pdelog.Infof("headervault: removed all headers under %s", v.Dir())
	return nil
}
