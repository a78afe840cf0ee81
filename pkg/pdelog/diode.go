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
	"context"
	"io"
	"sync"
	"time"

	"code.cloudfoundry.org/go-diodes"
)

var bufPool = &sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, 2000)
	},
}

// Alerter is notified with a count of dropped messages when the writer
// can't keep up.
type Alerter func(missed int)

// DiodeWriter wraps an io.Writer with a many-to-one diode so Write never
// blocks the caller (a Tool Invoker call in this codebase) and instead
// drops log records under sustained backpressure.
//
// Usage:
//
//	w := pdelog.NewDiodeWriter(dest, 1000, 10*time.Millisecond, func(missed int) {
//	    fmt.Fprintf(os.Stderr, "dropped %d\n", missed)
//	})
//	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
type DiodeWriter struct {
	w    io.Writer
	d    *diodes.ManyToOne
	p    *diodes.Poller
	c    context.CancelFunc
	done chan struct{}
}

// NewDiodeWriter starts the background poller draining into w.
func NewDiodeWriter(w io.Writer, size int, pollInterval time.Duration, f Alerter) DiodeWriter {
	ctx, cancel := context.WithCancel(context.Background())
	d := diodes.NewManyToOne(size, diodes.AlertFunc(f))
	dw := DiodeWriter{
		w: w,
		d: d,
		p: diodes.NewPoller(d,
			diodes.WithPollingInterval(pollInterval),
			diodes.WithPollingContext(ctx)),
		c:    cancel,
		done: make(chan struct{}),
	}
	go dw.poll()
	return dw
}

func (dw DiodeWriter) Write(p []byte) (n int, err error) {
	buf := append(bufPool.Get().([]byte), p...)
	dw.d.Set(diodes.GenericDataType(&buf))
	return len(buf), nil
}

// Close stops the poller and closes the wrapped writer if it is a Closer.
func (dw DiodeWriter) Close() error {
	dw.c()
	<-dw.done
	if w, ok := dw.w.(io.Closer); ok {
		return w.Close()
	}
	return nil
}

func (dw DiodeWriter) poll() {
	defer close(dw.done)
	for {
		d := dw.p.Next()
		if d == nil {
			return
		}
		p := *(*[]byte)(d)
		dw.w.Write(p)
		bufPool.Put(p[:0])
	}
}
