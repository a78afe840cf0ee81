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

// Package environment is the State Aggregator (component I): it
// composes components A-H into the single EnvironmentState the outer
// command shell reads, and drives the canonical forward/teardown
// orchestrations spec.md §5 names. It never caches state itself — every
// Status call re-derives from B, C, D, and H.
package environment

import (
	"context"
	"fmt"

	"github.com/shadowvault/pde/pkg/pde/config"
	"github.com/shadowvault/pde/pkg/pde/headervault"
	"github.com/shadowvault/pde/pkg/pde/keyvault"
	"github.com/shadowvault/pde/pkg/pde/mapper"
	"github.com/shadowvault/pde/pkg/pde/mdarray"
	"github.com/shadowvault/pde/pkg/pde/metrics"
	"github.com/shadowvault/pde/pkg/pde/pages"
	"github.com/shadowvault/pde/pkg/pde/pdemodel"
	"github.com/shadowvault/pde/pkg/pde/probe"
	"github.com/shadowvault/pde/pkg/pde/safezone"
	"github.com/shadowvault/pde/pkg/pde/toolexec"
	"github.com/shadowvault/pde/pkg/pdelog"
)

// ddBlockSize is the dd block size used when zero-filling non-simulated
// backing pages.
const ddBlockSize = 4 << 20 // 4 MiB

// Environment composes the full component stack rooted at cfg.Root.
type Environment struct {
	cfg      *config.Config
	invoker  *toolexec.Invoker
	probe    *probe.Probe
	Pages    *pages.Store
	MD       *mdarray.Controller
	Safezone *safezone.Builder
	Keys     *keyvault.Vault
	Headers  *headervault.Vault
	Mapper   *mapper.Mapper
}

// New wires every component against cfg, sharing one Invoker and Probe.
func New(cfg *config.Config) *Environment {
	invoker := toolexec.New()
	p := probe.New(invoker)
	keys := keyvault.New(cfg.Root, invoker)
	mdPath := "/dev/md/" + cfg.MDName

	return &Environment{
		cfg:      cfg,
		invoker:  invoker,
		probe:    p,
		Pages:    pages.New(cfg.Root, ddBlockSize, invoker, p),
		MD:       mdarray.New(cfg.Root, invoker, p),
		Safezone: safezone.New(invoker, p, cfg.SafezoneContentURL),
		Keys:     keys,
		Headers:  headervault.New(cfg.Root, mdPath, invoker, keys),
		Mapper:   mapper.New(mdPath, cfg.MapperName, invoker),
	}
}

// Preflight verifies the external tools every component depends on are
// on PATH before any operation is attempted.
func (e *Environment) Preflight() error {
	return e.invoker.Preflight("dd", "losetup", "mdadm", "mkfs", "mkfs.f2fs", "cryptsetup", "mount", "umount", "curl", "tar")
}

// Status reconstructs EnvironmentState from B, C, D, and H ground
// truth; it is never cached across calls.
func (e *Environment) Status(ctx context.Context) (pdemodel.EnvironmentState, error) {
	set, err := e.Pages.Rediscover(ctx, false)
	if err != nil {
		return pdemodel.EnvironmentState{}, fmt.Errorf("environment: status (pages): %w", err)
	}

	arr, err := e.MD.Status(ctx)
	if err != nil {
		return pdemodel.EnvironmentState{}, fmt.Errorf("environment: status (md): %w", err)
	}

	state := pdemodel.EnvironmentState{
		BackingActive: set.Active(),
		LUKSOpen:      e.Mapper.IsOpen() || e.probe.Exists(e.Mapper.DevicePath()),
	}
	if arr != nil {
		state.MDName = arr.Name
	}
	metrics.SetEnvironmentGauges(state.BackingActive, arr != nil, state.LUKSOpen)
	return state, nil
}

// Build allocates pages and then runs the canonical forward order:
// rediscover -> start_md -> populate_safezone -> create_keys ->
// create_headers (keys are created by the Header Vault). It does not open
// a mapping; that is a deliberate separate step since it requires the
// operator to choose a (header, key, offset) tuple.
func (e *Environment) Build(ctx context.Context, limit int, simulated bool, headerCount int) ([]headervault.Record, error) {
	if _, err := e.Pages.Allocate(ctx, e.cfg.DataPageSize, limit, simulated); err != nil {
		return nil, fmt.Errorf("environment: allocate: %w", err)
	}

	set, err := e.Pages.Rediscover(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("environment: rediscover: %w", err)
	}

	arr, err := e.MD.Start(ctx, e.cfg.MDName, set)
	if err != nil {
		return nil, fmt.Errorf("environment: start_md: %w", err)
	}

	if err := e.Safezone.Populate(ctx, arr.DevicePath); err != nil {
		return nil, fmt.Errorf("environment: populate_safezone: %w", err)
	}

	records, err := e.Headers.Create(ctx, headerCount, e.cfg.KeyfileSize, e.cfg.KeySize)
	if err != nil {
		return nil, fmt.Errorf("environment: create_headers: %w", err)
	}

	pdelog.Infof("environment: build complete, %d headers ready", len(records))
	return records, nil
}

// Teardown runs the reverse order: close_luks -> stop_md ->
// deactivate_pages -> remove_pages.
func (e *Environment) Teardown(ctx context.Context) error {
	if err := e.Mapper.Close(ctx); err != nil {
		return fmt.Errorf("environment: close_luks: %w", err)
	}
	if err := e.MD.Stop(ctx, e.cfg.MDName); err != nil {
		return fmt.Errorf("environment: stop_md: %w", err)
	}
	if err := e.Pages.Remove(ctx); err != nil {
		return fmt.Errorf("environment: remove_pages: %w", err)
	}
	pdelog.Infof("environment: teardown complete")
	return nil
}
