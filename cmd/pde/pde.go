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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/shadowvault/pde/cmd/pde/app"
	"github.com/shadowvault/pde/cmd/pde/options"
	"github.com/shadowvault/pde/pkg/pde/config"
	"github.com/shadowvault/pde/pkg/pde/environment"
	"github.com/shadowvault/pde/pkg/pde/pages"
	"github.com/shadowvault/pde/pkg/pdelog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	opts := options.NewOptions(cfg)
	opts.AddFlags(pflag.CommandLine)

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	pdelog.InitLogs()
	defer pdelog.FlushLogs()

	lock, err := pages.Acquire(opts.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForSignal(cancel)

	env := environment.New(configFromOpts(opts))
	if err := env.Preflight(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := app.Run(ctx, pflag.Args(), opts, env); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func configFromOpts(o *options.Options) *config.Config {
	return &config.Config{
		Root:               o.Root,
		MDName:             o.MDName,
		MapperName:         o.MapperName,
		DataPageSize:       o.DataPageSize,
		KeyCount:           o.KeyCount,
		HeaderCount:        o.HeaderCount,
		KeyfileSize:        o.KeyfileSize,
		KeySize:            o.KeySize,
		LuksSectorSize:     o.LuksSectorSize,
		SafezoneContentURL: o.SafezoneContentURL,
	}
}

func waitForSignal(cancel context.CancelFunc) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	pdelog.Debugf("got signal %s, cancelling in-flight operation", s.String())
	cancel()
}
