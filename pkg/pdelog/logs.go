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

// Package pdelog is the core's logging facade: a package-level sugared
// zap logger behind a glog-style V(n) verbosity gate, backed by a
// lock-free async writer so a slow disk never stalls a Tool Invoker call.
package pdelog

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logging   loggingT
	noplogger = zap.NewNop()
	zaplogger = noplogger
)

func init() {
	flag.StringVar(&logging.level, "log-level", "info",
		`log level ("debug", "info", "warn", "error", "dpanic", "panic", "fatal").`)
	flag.StringVar(&logging.logDir, "log-dir", "", "if non-empty, write log files in this directory instead of stderr")
	flag.BoolVar(&logging.readable, "log-readable", false, "print human-readable (console) logs instead of JSON")
	flag.Var(&logging.verbosity, "v", "verbosity threshold for V(n) logs")
}

// loggingT collects the global state of the logging setup, mirroring the
// klog/glog -v convention this codebase's teacher also follows.
type loggingT struct {
	mu       sync.Mutex
	level    string
	logDir   string
	readable bool

	verbosity Level
}

// Level is a V(n) verbosity threshold; safe to read without locking.
type Level int32

func (l *Level) get() Level        { return Level(atomic.LoadInt32((*int32)(l))) }
func (l *Level) String() string    { return strconv.FormatInt(int64(*l), 10) }
func (l *Level) Get() interface{}  { return *l }
func (l *Level) Set(value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	logging.mu.Lock()
	defer logging.mu.Unlock()
	atomic.StoreInt32((*int32)(l), int32(v))
	return nil
}

// InitLogs wires the real zap core. Must be called once from main() after
// flags are parsed; before that, every log call is a safe no-op.
func InitLogs() {
	if zaplogger != noplogger {
		return
	}
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if err := level.UnmarshalText([]byte(logging.level)); err != nil {
		fmt.Fprintf(os.Stderr, "pdelog: invalid log level %q, defaulting to info\n", logging.level)
	}

	var core zapcore.Core
	if logging.logDir == "" {
		core = newStderrCore(level)
	} else {
		if err := os.MkdirAll(logging.logDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "pdelog: create log dir failed: %v\n", err)
			core = newStderrCore(level)
		} else {
			core = newFileCore(level)
		}
	}
	zaplogger = zap.New(core).WithOptions(zap.AddCallerSkip(1), zap.AddCaller())
}

func newStderrCore(level zap.AtomicLevel) zapcore.Core {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	if logging.readable {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level.Level())
}

func newFileCore(level zap.AtomicLevel) zapcore.Core {
	program := "pde"

	errEnabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl >= zapcore.WarnLevel })
	infoEnabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl >= level.Level() })

	errWriter := zapcore.AddSync(NewDiodeWriter(NewRotate(logging.logDir, program, "ERROR"), 3000, 5*time.Millisecond, dropAlert))
	infoWriter := zapcore.AddSync(NewDiodeWriter(NewRotate(logging.logDir, program, "INFO"), 3000, 5*time.Millisecond, dropAlert))

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	if logging.readable {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	return zapcore.NewTee(
		zapcore.NewCore(encoder, infoWriter, infoEnabler),
		zapcore.NewCore(encoder, errWriter, errEnabler),
	)
}

func dropAlert(missed int) {
	fmt.Fprintf(os.Stderr, "pdelog: dropped %d log messages\n", missed)
}

// FlushLogs syncs the underlying core; call once before process exit.
func FlushLogs() {
	_ = zaplogger.Sync()
}

// Logger wraps *zap.Logger to add the V(n) gate.
type Logger zap.Logger

// V returns a Logger usable only if the configured verbosity is >= level,
// nil otherwise (every method on a nil *Logger is a safe no-op below via
// the Check helper pattern inherited from the teacher's logs package).
func V(level Level) *Logger {
	if logging.verbosity.get() >= level {
		return (*Logger)(zaplogger)
	}
	return nil
}

func check(l *Logger) bool { return l != nil }

func (l *Logger) Infof(template string, args ...interface{}) {
	if check(l) {
		(*zap.Logger)(l).Sugar().Infof(template, args...)
	}
}

func (l *Logger) Debugf(template string, args ...interface{}) {
	if check(l) {
		(*zap.Logger)(l).Sugar().Debugf(template, args...)
	}
}

func Info(msg string, fields ...zap.Field)            { zaplogger.Info(msg, fields...) }
func Infof(template string, args ...interface{})       { zaplogger.Sugar().Infof(template, args...) }
func Warn(msg string, fields ...zap.Field)             { zaplogger.Warn(msg, fields...) }
func Warnf(template string, args ...interface{})       { zaplogger.Sugar().Warnf(template, args...) }
func Error(msg string, fields ...zap.Field)            { zaplogger.Error(msg, fields...) }
func Errorf(template string, args ...interface{})      { zaplogger.Sugar().Errorf(template, args...) }
func Debug(msg string, fields ...zap.Field)            { zaplogger.Debug(msg, fields...) }
func Debugf(template string, args ...interface{})      { zaplogger.Sugar().Debugf(template, args...) }
