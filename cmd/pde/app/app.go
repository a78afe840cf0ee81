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

// Package app is the command dispatcher for the pde CLI: a tagged
// "group action" variant, not a cobra command tree (Design Notes §9:
// "one handler, not a class hierarchy"), grounded on the teacher's flat
// pflag.FlagSet + manual subcommand dispatch in cmd/funclet/funclet.go.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shadowvault/pde/cmd/pde/options"
	"github.com/shadowvault/pde/pkg/bytefmt"
	"github.com/shadowvault/pde/pkg/pde/environment"
	"github.com/shadowvault/pde/pkg/pde/metrics"
	"github.com/shadowvault/pde/pkg/pde/pdeerr"
	"github.com/shadowvault/pde/pkg/pde/pdemodel"
	"github.com/shadowvault/pde/pkg/pdelog"
)

// Run dispatches args (with os.Args[0] already stripped) against env.
// args[0] is the group ("pages", "md", "keys", "headers", "pde",
// "status", "metrics-serve"); args[1] is the action within that group.
func Run(ctx context.Context, args []string, opts *options.Options, env *environment.Environment) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: pde <group> <action> [flags]")
	}

	group := args[0]
	rest := args[1:]

	switch group {
	case "status":
		return runStatus(ctx, opts, env)
	case "metrics-serve":
		return runMetricsServe(opts)
	case "pages":
		return runPages(ctx, rest, opts, env)
	case "md":
		return runMD(ctx, rest, opts, env)
	case "keys":
		return runKeys(ctx, rest, opts, env)
	case "headers":
		return runHeaders(ctx, rest, opts, env)
	case "pde":
		return runPDE(ctx, rest, opts, env)
	default:
		return fmt.Errorf("unknown group %q", group)
	}
}

func action(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func runStatus(ctx context.Context, opts *options.Options, env *environment.Environment) error {
	state, err := env.Status(ctx)
	if err != nil {
		return err
	}
	if opts.Output == "json" {
		return renderJSON(os.Stdout, state)
	}
	return renderTable(os.Stdout,
		[]string{"BACKING_ACTIVE", "MD_NAME", "LUKS_OPEN"},
		[][]string{{fmt.Sprintf("%v", state.BackingActive), state.MDName, fmt.Sprintf("%v", state.LUKSOpen)}})
}

func runMetricsServe(opts *options.Options) error {
	if err := metrics.Register(); err != nil {
		return err
	}
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	pdelog.Infof("metrics-serve: listening on %s", opts.MetricsAddr)
	return http.ListenAndServe(opts.MetricsAddr, r)
}

func runPages(ctx context.Context, args []string, opts *options.Options, env *environment.Environment) error {
	switch action(args) {
	case "create":
		alloc, err := env.Pages.Allocate(ctx, opts.DataPageSize, opts.PageLimit, opts.Simulated)
		if err != nil {
			return err
		}
		return renderPages(opts, alloc.Pages)
	case "list":
		set, err := env.Pages.Rediscover(ctx, false)
		if err != nil {
			return err
		}
		return renderPages(opts, set.Pages)
	case "activate":
		set, err := env.Pages.Rediscover(ctx, true)
		if err != nil {
			return err
		}
		return renderPages(opts, set.Pages)
	case "deactivate":
		set, err := env.Pages.Deactivate(ctx)
		if err != nil {
			return err
		}
		return renderPages(opts, set.Pages)
	case "remove":
		if !opts.Confirmed {
			return &pdeerr.RefusedUnconfirmed{Operation: "pages.remove"}
		}
		return env.Pages.Remove(ctx)
	default:
		return fmt.Errorf("pages: unknown action %q", action(args))
	}
}

func renderPages(opts *options.Options, pages []pdemodel.BackingPage) error {
	if opts.Output == "json" {
		return renderJSON(os.Stdout, pages)
	}
	rows := make([][]string, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, []string{p.Name, p.Path, bytefmt.ByteSize(p.SizeBytes), p.LoopDevice})
	}
	return renderTable(os.Stdout, []string{"NAME", "PATH", "SIZE", "LOOP_DEVICE"}, rows)
}

func runMD(ctx context.Context, args []string, opts *options.Options, env *environment.Environment) error {
	switch action(args) {
	case "start":
		set, err := env.Pages.Rediscover(ctx, true)
		if err != nil {
			return err
		}
		arr, err := env.MD.Start(ctx, opts.MDName, set)
		if err != nil {
			return err
		}
		if opts.Output == "json" {
			return renderJSON(os.Stdout, arr)
		}
		return renderTable(os.Stdout,
			[]string{"NAME", "DEVICE", "MEMBERS", "SECTORS"},
			[][]string{{arr.Name, arr.DevicePath, fmt.Sprintf("%d", len(arr.MemberDevices)), fmt.Sprintf("%d", arr.TotalSectors)}})
	case "stop":
		return env.MD.Stop(ctx, opts.MDName)
	case "status":
		arr, err := env.MD.Status(ctx)
		if err != nil {
			return err
		}
		if arr == nil {
			fmt.Fprintln(os.Stdout, "no array")
			return nil
		}
		if opts.Output == "json" {
			return renderJSON(os.Stdout, arr)
		}
		return renderTable(os.Stdout,
			[]string{"NAME", "DEVICE", "MEMBERS", "SECTORS"},
			[][]string{{arr.Name, arr.DevicePath, fmt.Sprintf("%d", len(arr.MemberDevices)), fmt.Sprintf("%d", arr.TotalSectors)}})
	case "populate-safezone":
		arr, err := env.MD.Status(ctx)
		if err != nil {
			return err
		}
		if arr == nil {
			return fmt.Errorf("md: no active array")
		}
		return env.Safezone.Populate(ctx, arr.DevicePath)
	default:
		return fmt.Errorf("md: unknown action %q", action(args))
	}
}

func runKeys(ctx context.Context, args []string, opts *options.Options, env *environment.Environment) error {
	switch action(args) {
	case "create":
		keys, err := env.Keys.Create(ctx, opts.KeyCount, opts.KeyfileSize, opts.KeySize)
		if err != nil {
			return err
		}
		if opts.Output == "json" {
			return renderJSON(os.Stdout, keys)
		}
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k.Name, k.Path})
		}
		return renderTable(os.Stdout, []string{"NAME", "PATH"}, rows)
	case "list":
		fps, err := env.Keys.List()
		if err != nil {
			return err
		}
		if opts.Output == "json" {
			return renderJSON(os.Stdout, fps)
		}
		rows := make([][]string, 0, len(fps))
		for _, f := range fps {
			rows = append(rows, []string{f.Name, f.MD5})
		}
		return renderTable(os.Stdout, []string{"NAME", "MD5"}, rows)
	case "remove":
		return env.Keys.Remove(opts.Confirmed)
	default:
		return fmt.Errorf("keys: unknown action %q", action(args))
	}
}

func runHeaders(ctx context.Context, args []string, opts *options.Options, env *environment.Environment) error {
	switch action(args) {
	case "create":
		records, err := env.Headers.Create(ctx, opts.HeaderCount, opts.KeyfileSize, opts.KeySize)
		if err != nil {
			return err
		}
		if opts.Output == "json" {
			return renderJSON(os.Stdout, records)
		}
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			rows = append(rows, []string{r.Header.Name, r.KeyName, fmt.Sprintf("%d", r.KeyfileOffset), fmt.Sprintf("%d", r.Header.PayloadOffset)})
		}
		return renderTable(os.Stdout, []string{"HEADER", "KEY", "KEY_OFFSET", "PAYLOAD_OFFSET"}, rows)
	case "list":
		names, err := env.Headers.List()
		if err != nil {
			return err
		}
		sort.Strings(names)
		if opts.Output == "json" {
			return renderJSON(os.Stdout, names)
		}
		rows := make([][]string, 0, len(names))
		for _, n := range names {
			rows = append(rows, []string{n})
		}
		return renderTable(os.Stdout, []string{"HEADER"}, rows)
	case "remove":
		return env.Headers.Remove(opts.Confirmed)
	default:
		return fmt.Errorf("headers: unknown action %q", action(args))
	}
}

func runPDE(ctx context.Context, args []string, opts *options.Options, env *environment.Environment) error {
	switch action(args) {
	case "start":
		records, err := env.Build(ctx, opts.PageLimit, opts.Simulated, opts.HeaderCount)
		if err != nil {
			return err
		}
		if opts.Output == "json" {
			return renderJSON(os.Stdout, records)
		}
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			rows = append(rows, []string{r.Header.Name, r.KeyName, fmt.Sprintf("%d", r.KeyfileOffset), fmt.Sprintf("%d", r.Header.PayloadOffset)})
		}
		return renderTable(os.Stdout, []string{"HEADER", "KEY", "KEY_OFFSET", "PAYLOAD_OFFSET"}, rows)
	case "stop":
		return env.Teardown(ctx)
	default:
		return fmt.Errorf("pde: unknown action %q", action(args))
	}
}
