// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides leveled logging with pluggable output formats.
//
// A process-wide logger is configured once with SetTarget and SetLevel.
// Packages that need their own policy, such as rate limiting, take a Logger
// instead of calling the package functions directly.
//
// Formatting a message is not free even when it is discarded, so expensive
// arguments should be guarded:
//
//	if log.IsLogging(log.Debug) {
//		log.Debugf("extent tree: %v", dump(tree))
//	}
package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the log level. Lower levels are more important.
type Level uint32

// Levels are numbered for use in config files and JSON output; new levels
// may only be appended.
const (
	// Warning is always emitted.
	Warning Level = iota

	// Info is emitted unless output is restricted to warnings.
	Info

	// Debug is emitted only on request.
	Debug
)

var levelNames = [...]string{
	Warning: "Warning",
	Info:    "Info",
	Debug:   "Debug",
}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Invalid level: %d", l)
}

// ParseLevel returns the level named s. Names are matched without regard to
// case.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(l), nil
		}
	}
	return Warning, fmt.Errorf("unknown log level %q", s)
}

// Emitter is the final destination for logs.
type Emitter interface {
	// Emit writes one message logged at timestamp.
	//
	// depth is the number of stack frames between Emit and the function that
	// logged the message. Emitters that report file:line use it, and
	// emitters that wrap another add one.
	Emit(depth int, level Level, timestamp time.Time, format string, v ...any)
}

// caller returns "file:line" for the frame depth levels above the function
// calling caller, or "" if the stack is not that deep.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 2)
	if !ok {
		return ""
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Writer is an Emitter that writes bare messages to Next. It is also the
// io.Writer used by the formatting emitters.
//
// Failed writes are counted and reported once Next accepts output again.
type Writer struct {
	// Next is where output is written.
	Next io.Writer

	// mu serializes the dropped message report.
	mu sync.Mutex

	// dropped is read outside mu.
	dropped atomic.Int32
}

// Write writes all of data, retrying while Next times out, and terminates
// the line if data does not end with a newline.
func (w *Writer) Write(data []byte) (int, error) {
	n, err := w.writeAll(data)
	if err != nil {
		w.dropped.Add(1)
		return n, err
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		w.writeAll([]byte{'\n'})
	}
	if w.dropped.Load() > 0 {
		w.reportDropped()
	}
	return n, nil
}

func (w *Writer) writeAll(data []byte) (int, error) {
	n := 0
	for n < len(data) {
		m, err := w.Next.Write(data[n:])
		n += m
		if pathErr, ok := err.(*os.PathError); ok && pathErr.Timeout() {
			// Non-blocking file that is not ready yet.
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (w *Writer) reportDropped() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d := w.dropped.Load(); d > 0 {
		msg := fmt.Sprintf("\n*** Dropped %d log messages ***\n", d)
		if _, err := w.Next.Write([]byte(msg)); err == nil {
			w.dropped.Store(0)
		}
	}
}

// Emit implements Emitter.Emit.
func (w *Writer) Emit(_ int, _ Level, _ time.Time, format string, v ...any) {
	fmt.Fprintf(w, format, v...)
}

// MultiEmitter sends every message to each of its Emitters in order.
type MultiEmitter []Emitter

// Emit implements Emitter.Emit.
func (m *MultiEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	for _, e := range *m {
		e.Emit(depth+1, level, timestamp, format, v...)
	}
}

// TestLogger is implemented by testing.T and testing.B.
type TestLogger interface {
	Logf(format string, v ...any)
}

// TestEmitter sends messages to a test's log, so they are shown only when
// the test fails or runs verbosely.
type TestEmitter struct {
	TestLogger
}

// Emit implements Emitter.Emit.
func (t *TestEmitter) Emit(_ int, level Level, _ time.Time, format string, v ...any) {
	t.Logf("%c] %s", levelChar(level), fmt.Sprintf(format, v...))
}

// Logger is implemented by BasicLogger and by loggers layered over one.
// Packages take a Logger when callers may want to route or limit their
// messages.
type Logger interface {
	// Debugf logs at Debug level.
	Debugf(format string, v ...any)

	// Infof logs at Info level.
	Infof(format string, v ...any)

	// Warningf logs at Warning level.
	Warningf(format string, v ...any)

	// IsLogging returns true iff messages at level are emitted.
	IsLogging(level Level) bool
}

// BasicLogger emits messages at or below Level to Emitter.
type BasicLogger struct {
	Level
	Emitter
}

// Debugf implements Logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	l.logAtDepth(1, Debug, format, v)
}

// Infof implements Logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	l.logAtDepth(1, Info, format, v)
}

// Warningf implements Logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	l.logAtDepth(1, Warning, format, v)
}

func (l *BasicLogger) logAtDepth(depth int, level Level, format string, v []any) {
	if l.IsLogging(level) {
		l.Emit(depth+1, level, time.Now(), format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	return atomic.LoadUint32((*uint32)(&l.Level)) >= uint32(level)
}

// SetLevel sets the logging level.
func (l *BasicLogger) SetLevel(level Level) {
	atomic.StoreUint32((*uint32)(&l.Level), uint32(level))
}

var (
	// targetMu serializes SetTarget.
	targetMu sync.Mutex

	// global is the process-wide logger. It is replaced, never mutated,
	// except for its level.
	global atomic.Pointer[BasicLogger]
)

func init() {
	global.Store(&BasicLogger{Level: Info, Emitter: GoogleEmitter{&Writer{Next: os.Stderr}}})
}

// Log returns the process-wide logger.
func Log() *BasicLogger {
	return global.Load()
}

// SetTarget replaces the process-wide emitter, keeping the current level.
func SetTarget(target Emitter) {
	targetMu.Lock()
	defer targetMu.Unlock()
	global.Store(&BasicLogger{Level: Log().Level, Emitter: target})
}

// SetLevel sets the process-wide log level.
func SetLevel(level Level) {
	Log().SetLevel(level)
}

// Debugf logs to the process-wide logger.
func Debugf(format string, v ...any) {
	Log().logAtDepth(1, Debug, format, v)
}

// Infof logs to the process-wide logger.
func Infof(format string, v ...any) {
	Log().logAtDepth(1, Info, format, v)
}

// Warningf logs to the process-wide logger.
func Warningf(format string, v ...any) {
	Log().logAtDepth(1, Warning, format, v)
}

// IsLogging returns whether the process-wide logger emits level.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}
