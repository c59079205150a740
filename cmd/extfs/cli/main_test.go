// Copyright 2026 The gVisor Authors.
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

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/extfs/pkg/extfs/config"
	"gvisor.dev/extfs/pkg/log"
)

func TestNewEmitter(t *testing.T) {
	ts := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	for _, test := range []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{
			format: config.LogFormatText,
			check: func(t *testing.T, out string) {
				if !strings.HasPrefix(out, "W0102 ") {
					t.Errorf("glog line %q does not start with the level and date", out)
				}
			},
		},
		{
			format: config.LogFormatJSON,
			check: func(t *testing.T, out string) {
				var m map[string]any
				if err := json.Unmarshal([]byte(out), &m); err != nil {
					t.Fatalf("bad JSON %q: %v", out, err)
				}
				if m["msg"] != "mounted 7" {
					t.Errorf("JSON message = %v, want %q", m["msg"], "mounted 7")
				}
			},
		},
		{
			format: config.LogFormatLogrus,
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "level=warning") {
					t.Errorf("logrus line %q has no warning level", out)
				}
			},
		},
	} {
		t.Run(test.format, func(t *testing.T) {
			var buf bytes.Buffer
			e := newEmitter(test.format, &buf)
			e.Emit(0, log.Warning, ts, "mounted %d", 7)
			out := buf.String()
			if !strings.Contains(out, "mounted 7") {
				t.Errorf("output %q does not contain the message", out)
			}
			test.check(t, out)
		})
	}
}

func TestForEachCmd(t *testing.T) {
	names := make(map[string]string)
	forEachCmd(func(cmd subcommands.Command, group string) {
		if _, ok := names[cmd.Name()]; ok {
			t.Errorf("command %q registered twice", cmd.Name())
		}
		names[cmd.Name()] = group
	})
	for _, name := range []string{"ls", "cat", "stat", "tree", "info", "blocks", "help", "flags"} {
		if _, ok := names[name]; !ok {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestWarningsOnly(t *testing.T) {
	var file, stderr bytes.Buffer
	e := &log.MultiEmitter{
		newEmitter(config.LogFormatText, &file),
		warningsOnly{log.GoogleEmitter{Writer: &log.Writer{Next: &stderr}}},
	}
	l := &log.BasicLogger{Level: log.Debug, Emitter: e}
	l.Debugf("reading block %d", 3)
	l.Warningf("bad entry in inode %d", 12)

	if got := strings.Count(file.String(), "\n"); got != 2 {
		t.Errorf("log file has %d lines, want 2:\n%s", got, file.String())
	}
	out := stderr.String()
	if strings.Contains(out, "reading block") || !strings.Contains(out, "bad entry in inode 12") {
		t.Errorf("stderr = %q, want only the warning", out)
	}
	if !strings.Contains(out, "main_test.go:") {
		t.Errorf("stderr caller in %q is not the logging call site", out)
	}
}
