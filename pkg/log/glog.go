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

package log

import (
	"fmt"
	"os"
	"time"
)

// GoogleEmitter writes messages in the line format of
// github.com/golang/glog:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// L is the level initial, pid is padded to seven columns and file:line is
// the logging call site.
type GoogleEmitter struct {
	*Writer
}

var pid = os.Getpid()

// levelChar returns the glog initial for level.
func levelChar(level Level) byte {
	switch level {
	case Warning:
		return 'W'
	case Info:
		return 'I'
	default:
		return 'D'
	}
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	site := caller(depth)
	if site == "" {
		site = "???:1"
	}
	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	line := make([]byte, 0, 128)
	line = fmt.Appendf(line, "%c%02d%02d %02d:%02d:%02d.%06d %7d %s] ",
		levelChar(level), int(month), day, hour, minute, second, timestamp.Nanosecond()/int(time.Microsecond), pid, site)
	line = fmt.Appendf(line, format, v...)
	g.Writer.Write(append(line, '\n'))
}
