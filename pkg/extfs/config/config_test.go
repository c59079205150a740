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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extfs.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("config without flags differs from the defaults (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	args := []string{"--debug", "--log-format=json", "--cache-blocks=0", "--alsologtostderr", "--io-retry-delay=1s", "--lock-device=false"}
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.Debug = true
	want.LogFormat = LogFormatJSON
	want.CacheBlocks = 0
	want.AlsoLogToStderr = true
	want.IORetryDelay = time.Second
	want.LockDevice = false
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
debug = true
log_file = "/tmp/extfs/"
cache_blocks = 256
io_retries = 5
io_retry_delay = "250ms"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Default()
	want.Debug = true
	want.LogFile = "/tmp/extfs/"
	want.CacheBlocks = 256
	want.IORetries = 5
	want.IORetryDelay = 250 * time.Millisecond
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "cache_blocks = 256\nio_retries = 5\n")
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{"--config=" + path, "--cache-blocks=8"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if c.CacheBlocks != 8 {
		t.Errorf("CacheBlocks = %d, want the flag value 8", c.CacheBlocks)
	}
	if c.IORetries != 5 {
		t.Errorf("IORetries = %d, want the file value 5", c.IORetries)
	}
}

func TestInvalid(t *testing.T) {
	for _, test := range []struct {
		name     string
		contents string
	}{
		{name: "unknown key", contents: "cache = 1\n"},
		{name: "bad format", contents: `log_format = "xml"` + "\n"},
		{name: "negative cache", contents: "cache_blocks = -1\n"},
		{name: "wrong type", contents: `io_retries = "many"` + "\n"},
		{name: "syntax", contents: "debug = \n"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, test.contents)); err == nil {
				t.Errorf("Load succeeded, want error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("Load of a missing file succeeded")
	}
}
