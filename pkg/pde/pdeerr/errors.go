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

// Package pdeerr defines the typed error taxonomy surfaced by every
// component of the environment manager. Callers recover a specific case
// with errors.As; nothing here is ever swallowed silently.
package pdeerr

import "fmt"

// ToolFailure wraps any non-zero exit from an external tool invocation.
type ToolFailure struct {
	Tool   string
	Args   []string
	Exit   int
	Stderr string
}

func (e *ToolFailure) Error() string {
	return fmt.Sprintf("tool failure: %s %v exited %d: %s", e.Tool, e.Args, e.Exit, e.Stderr)
}

// InsufficientSpace is raised by the Backing-Page Store's allocation
// arithmetic before any file is created.
type InsufficientSpace struct {
	Needed    uint64
	Available uint64
}

func (e *InsufficientSpace) Error() string {
	return fmt.Sprintf("insufficient space: needed %d bytes, available %d bytes", e.Needed, e.Available)
}

// PreflightFailure reports a required binary missing from PATH.
type PreflightFailure struct {
	MissingTool string
}

func (e *PreflightFailure) Error() string {
	return fmt.Sprintf("preflight failure: %s not found on PATH", e.MissingTool)
}

// PreconditionUnmet covers "no backing pages", "no MD device", "md name
// already in use", and similar entry-condition checks.
type PreconditionUnmet struct {
	What string
}

func (e *PreconditionUnmet) Error() string {
	return fmt.Sprintf("precondition unmet: %s", e.What)
}

// ArrayInconsistent is raised when mdadm --assemble finds a different
// member count than the Backing-Page Store currently reports.
type ArrayInconsistent struct {
	Expected int
	Found    int
}

func (e *ArrayInconsistent) Error() string {
	return fmt.Sprintf("array inconsistent: expected %d members, found %d", e.Expected, e.Found)
}

// WrongTuple is raised when cryptsetup luksOpen rejects a
// (header, key, keyfile-offset) triple.
type WrongTuple struct {
	Header string
	Key    string
	Offset uint64
}

func (e *WrongTuple) Error() string {
	return fmt.Sprintf("wrong tuple: header=%s key=%s offset=%d did not open", e.Header, e.Key, e.Offset)
}

// RefusedUnconfirmed is raised by any destructive command invoked without
// explicit confirmation.
type RefusedUnconfirmed struct {
	Operation string
}

func (e *RefusedUnconfirmed) Error() string {
	return fmt.Sprintf("refused: %s requires explicit confirmation", e.Operation)
}

// NotFound is raised when a named key or header does not exist under its
// vault root.
type NotFound struct {
	Path string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}
