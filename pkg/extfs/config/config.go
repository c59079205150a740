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

// Package config provides basic infrastructure to set configuration settings
// for extfs. Settings come from an optional TOML file and are overridden by
// command line flags.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"time"

	"github.com/BurntSushi/toml"
	"gvisor.dev/extfs/pkg/log"
)

// Log formats accepted by LogFormat.
const (
	LogFormatText   = "text"
	LogFormatJSON   = "json"
	LogFormatLogrus = "logrus"
)

// Config holds configuration that is not part of an individual command.
//
// Each field carries the TOML key it is read from and the flag that
// overrides it.
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `toml:"debug" flag:"debug"`

	// LogFormat is the log format: text, json or logrus.
	LogFormat string `toml:"log_format" flag:"log-format"`

	// LogFile is the log file pattern. Empty means stderr. %COMMAND% and
	// %TIMESTAMP% are expanded; a trailing '/' names a directory.
	LogFile string `toml:"log_file" flag:"log"`

	// AlsoLogToStderr copies warnings to stderr when LogFile is set.
	AlsoLogToStderr bool `toml:"also_log_to_stderr" flag:"alsologtostderr"`

	// CacheBlocks is the number of metadata blocks cached per volume. Zero
	// disables the cache.
	CacheBlocks int `toml:"cache_blocks" flag:"cache-blocks"`

	// IORetries is how many times a failed device read is retried when the
	// error is transient.
	IORetries uint64 `toml:"io_retries" flag:"io-retries"`

	// IORetryDelay is the pause between retries.
	IORetryDelay time.Duration `toml:"io_retry_delay" flag:"io-retry-delay"`

	// LockDevice takes a shared advisory lock on image files so a concurrent
	// writer holding an exclusive lock is detected.
	LockDevice bool `toml:"lock_device" flag:"lock-device"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogFormat:    LogFormatText,
		CacheBlocks:  64,
		IORetries:    3,
		IORetryDelay: 10 * time.Millisecond,
		LockDevice:   true,
	}
}

// RegisterFlags registers flags used to populate Config. Flag defaults are
// the values of Default.
func RegisterFlags(flagSet *flag.FlagSet) {
	d := Default()
	flagSet.String("config", "", "path to a TOML configuration file. Flags override its settings.")
	flagSet.Bool("debug", d.Debug, "enable debug logging.")
	flagSet.String("log-format", d.LogFormat, "log format: text (default), json, or logrus.")
	flagSet.String("log", d.LogFile, "file path where logs are written, default is stderr. %COMMAND% and %TIMESTAMP% are expanded.")
	flagSet.Bool("alsologtostderr", d.AlsoLogToStderr, "send warnings to stderr as well as to the log file.")
	flagSet.Int("cache-blocks", d.CacheBlocks, "number of metadata blocks cached per volume, 0 to disable.")
	flagSet.Uint64("io-retries", d.IORetries, "number of retries for transient device read errors.")
	flagSet.Duration("io-retry-delay", d.IORetryDelay, "delay between device read retries.")
	flagSet.Bool("lock-device", d.LockDevice, "take a shared advisory lock on image files.")
}

// Load reads the TOML file at path over the defaults. Unknown keys are an
// error.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("error loading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %q: unknown keys %v", path, undecoded)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return c, nil
}

// NewFromFlags creates a new Config from the file named by --config, if
// any, with every flag set on the command line applied over it.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := Default()
	if fl := flagSet.Lookup("config"); fl != nil && fl.Value.String() != "" {
		var err error
		if conf, err = Load(fl.Value.String()); err != nil {
			return nil, err
		}
	}

	set := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok || !set[name] {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON, LogFormatLogrus:
	default:
		return fmt.Errorf("invalid log format %q, must be %q, %q or %q", c.LogFormat, LogFormatText, LogFormatJSON, LogFormatLogrus)
	}
	if c.CacheBlocks < 0 {
		return fmt.Errorf("cache_blocks must not be negative, got %d", c.CacheBlocks)
	}
	if c.IORetryDelay < 0 {
		return fmt.Errorf("io_retry_delay must not be negative, got %v", c.IORetryDelay)
	}
	return nil
}

// Log dumps the effective configuration at debug level.
func (c *Config) Log() {
	if !log.IsLogging(log.Debug) {
		return
	}
	log.Debugf("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		log.Debugf("\t%s: %v", st.Field(i).Name, obj.Field(i).Interface())
	}
}
