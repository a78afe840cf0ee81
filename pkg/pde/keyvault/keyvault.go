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

// Package keyvault is the Key Vault (component F): it generates,
// enumerates, and removes the random key-material files stored under
// the hidden "<root>/.k" sub-root.
package keyvault

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/shadowvault/pde/pkg/pde/pdeerr"
	"github.com/shadowvault/pde/pkg/pde/pdemodel"
	"github.com/shadowvault/pde/pkg/pde/toolexec"
	"github.com/shadowvault/pde/pkg/pdelog"
)

const subdir = ".k"

// Vault manages key-material files under root/.k.
type Vault struct {
	root    string
	invoker *toolexec.Invoker
}

// New returns a Vault rooted at root.
func New(root string, invoker *toolexec.Invoker) *Vault {
	return &Vault{root: root, invoker: invoker}
}

// Dir is the hidden sub-root holding key files.
func (v *Vault) Dir() string {
	return filepath.Join(v.root, subdir)
}

// Create generates count fresh keyfiles of keyfileSize bytes (rounded up
// to a multiple of keySize) of /dev/urandom material.
func (v *Vault) Create(ctx context.Context, count int, keyfileSize, keySize uint64) ([]pdemodel.Key, error) {
	if err := os.MkdirAll(v.Dir(), 0o700); err != nil {
		return nil, fmt.Errorf("keyvault: creating %s: %w", v.Dir(), err)
	}

	size := roundUp(keyfileSize, keySize)
	keys := make([]pdemodel.Key, 0, count)
	for i := 0; i < count; i++ {
		name := uuid.NewString()
		path := filepath.Join(v.Dir(), name)
		if _, err := v.invoker.Run(ctx, "dd", "if=/dev/urandom",
			fmt.Sprintf("of=%s", path),
			"bs=512",
			fmt.Sprintf("count=%d", size/512)); err != nil {
			return nil, err
		}
		pdelog.Infof("keyvault: created key %s (%d bytes)", name, size)
		keys = append(keys, pdemodel.Key{Name: name, Path: path})
	}
	return keys, nil
}

func roundUp(size, multiple uint64) uint64 {
	if multiple == 0 {
		return size
	}
	rem := size % multiple
	if rem == 0 {
		return size
	}
	return size + (multiple - rem)
}

// Fingerprint is a key's name paired with the MD5 of its contents, for
// human identification only; the vault never verifies key integrity.
type Fingerprint struct {
	Name string
	MD5  string
}

// List enumerates every file under root/.k along with an MD5 fingerprint.
func (v *Vault) List() ([]Fingerprint, error) {
	entries, err := os.ReadDir(v.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("keyvault: listing %s: %w", v.Dir(), err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Fingerprint, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(v.Dir(), name))
		if err != nil {
			return nil, fmt.Errorf("keyvault: reading %s: %w", name, err)
		}
		sum := md5.Sum(data)
		out = append(out, Fingerprint{Name: name, MD5: hex.EncodeToString(sum[:])})
	}
	return out, nil
}

// Remove unlinks every key file. Without explicit confirmation it
// refuses, mirroring the irreversibility of destroying key material.
func (v *Vault) Remove(confirmed bool) error {
	if !confirmed {
		return &pdeerr.RefusedUnconfirmed{Operation: "keyvault.remove"}
	}
	entries, err := os.ReadDir(v.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("keyvault: listing %s: %w", v.Dir(), err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(v.Dir(), e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("keyvault: removing %s: %w", e.Name(), err)
		}
	}
	pdelog.Infof("keyvault: removed all keys under %s", v.Dir())
	return nil
}
