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

package pdelog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultRotateSize = 2 << 30 // 2 GiB

// Rotate is a lock-free log rotater: one background goroutine watches the
// current file's size and swaps in a fresh one past the threshold. Callers
// never block on rotation; Write always targets whatever file is current.
type Rotate struct {
	dir   string
	tag   string
	size  int64
	ofile *os.File
	file  *os.File
	fname string
}

// NewRotate creates a Rotate writing program.tag.<timestamp>.log files
// under dir. Returns nil if the initial file cannot be created.
func NewRotate(dir, program, tag string) *Rotate {
	f, fname, err := create(dir, program, tag, time.Now())
	if err != nil {
		return nil
	}
	r := &Rotate{dir: dir, tag: tag, size: defaultRotateSize, file: f, fname: fname}
	go r.watch(program)
	return r
}

func (r *Rotate) Write(p []byte) (int, error) {
	return r.file.Write(p)
}

func (r *Rotate) watch(program string) {
	for {
		if r.ofile != nil {
			r.ofile.Close()
			r.ofile = nil
		}
		info, err := os.Stat(r.fname)
		if err != nil {
			return
		}
		if info.Size() > r.size {
			f, fname, err := create(r.dir, program, r.tag, time.Now())
			if err != nil {
				return
			}
			r.ofile = r.file
			r.file = f
			r.fname = fname
		}
		time.Sleep(5 * time.Second)
	}
}

func create(dir, program, tag string, t time.Time) (f *os.File, filename string, err error) {
	name := fmt.Sprintf("%s.%s.%s.log", program, tag, t.Format("20060102-150405.000000000"))
	fname := filepath.Join(dir, name)
	f, err = os.Create(fname)
	if err != nil {
		return nil, "", fmt.Errorf("pdelog: cannot create log file: %w", err)
	}
	link := filepath.Join(dir, program+"."+tag)
	os.Remove(link)
	os.Symlink(name, link)
	return f, fname, nil
}
