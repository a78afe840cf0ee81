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

// Package toolexec is the Tool Invoker: the only place in the core that
// shells out to external binaries. Every non-zero exit is surfaced as a
// typed *pdeerr.ToolFailure; nothing is ever swallowed.
package toolexec

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"

	"github.com/shadowvault/pde/pkg/pde/metrics"
	"github.com/shadowvault/pde/pkg/pde/pdeerr"
	"github.com/shadowvault/pde/pkg/pdelog"
)

// Result holds the captured output of one tool invocation.
type Result struct {
	Stdout string
	Stderr string
	Exit   int
}

// Invoker runs external commands and classifies their failures.
type Invoker struct{}

// New returns a ready-to-use Invoker. It has no state: every call re-reads
// the environment (PATH) fresh, same as every other ground-truth read in
// this codebase.
func New() *Invoker {
	return &Invoker{}
}

// Run executes name with args, capturing stdout and stderr separately.
func (i *Invoker) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	pdelog.V(9).Infof("toolexec: running %s %v", name, args)
	start := time.Now()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if exErr, ok := err.(*exec.Error); ok && exErr.Err == exec.ErrNotFound {
			metrics.ObserveToolCall(name, "missing", time.Since(start))
			return Result{}, &pdeerr.PreflightFailure{MissingTool: name}
		}
		metrics.ObserveToolCall(name, "start_error", time.Since(start))
		return Result{}, errors.Wrapf(err, "starting %s", name)
	}

	waitErr := cmd.Wait()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if waitErr == nil {
		metrics.ObserveToolCall(name, "ok", time.Since(start))
		return result, nil
	}

	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.Exit = exitErr.ExitCode()
		pdelog.Errorf("toolexec: %s %v exited %d: %s", name, args, result.Exit, result.Stderr)
		metrics.ObserveToolCall(name, "failed", time.Since(start))
		return result, &pdeerr.ToolFailure{
			Tool:   name,
			Args:   args,
			Exit:   result.Exit,
			Stderr: result.Stderr,
		}
	}

	metrics.ObserveToolCall(name, "wait_error", time.Since(start))
	return result, errors.Wrapf(waitErr, "waiting for %s", name)
}

// Preflight verifies that every named tool is reachable on PATH.
func (i *Invoker) Preflight(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return &pdeerr.PreflightFailure{MissingTool: name}
		}
	}
	return nil
}
