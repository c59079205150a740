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

// Package cli is the main entrypoint for extfs.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gvisor.dev/extfs/cmd/extfs/cmd"
	"gvisor.dev/extfs/pkg/extfs/config"
	"gvisor.dev/extfs/pkg/log"
)

// version is set at link time with -X.
var version = "unknown"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)
	showVersion := flag.Bool("version", false, "show version and exit.")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *showVersion {
		fmt.Fprintf(os.Stdout, "extfs version %s\n", version)
		os.Exit(0)
	}

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		fatalf("%v", err)
	}
	subcommand := flag.CommandLine.Arg(0)

	// Without a log file only warnings reach stderr, so command output
	// stays readable.
	switch {
	case conf.Debug:
		log.SetLevel(log.Debug)
	case conf.LogFile == "":
		log.SetLevel(log.Warning)
	}

	var logFile io.Writer = os.Stderr
	f, err := log.OpenFile(conf.LogFile, log.FilePattern{Command: subcommand, Timestamp: time.Now()})
	if err != nil {
		fatalf("error opening log file %q: %v", conf.LogFile, err)
	}
	if f != nil {
		logFile = f
	}
	e := newEmitter(conf.LogFormat, logFile)
	if f != nil && conf.AlsoLogToStderr {
		e = &log.MultiEmitter{e, warningsOnly{log.GoogleEmitter{Writer: &log.Writer{Next: os.Stderr}}}}
	}
	log.SetTarget(e)

	const delimString = `**************** extfs ****************`
	log.Infof(delimString)
	log.Infof("Version %s, %s, %s, %s, PID %d, UID %d", version, runtime.Version(), runtime.GOARCH, runtime.GOOS, os.Getpid(), os.Getuid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Interrupts cancel device retries and walks in progress.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	status := subcommands.Execute(ctx, conf)
	stop()

	log.Infof("Exiting with status: %v", status)
	if f != nil {
		f.Close()
	}
	os.Exit(int(status))
}

// forEachCmd invokes the passed callback for each command supported by
// extfs.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Ls), "")
	cb(new(cmd.Cat), "")
	cb(new(cmd.Stat), "")
	cb(new(cmd.Tree), "")
	cb(new(cmd.Info), "")

	const debugGroup = "debug"
	cb(new(cmd.Blocks), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case config.LogFormatText:
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case config.LogFormatJSON:
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	case config.LogFormatLogrus:
		l := logrus.New()
		l.SetOutput(logFile)
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
		return log.NewLogrusEmitter(l)
	}
	fatalf("invalid log format %q, must be 'text', 'json', or 'logrus'", format)
	panic("unreachable")
}

// warningsOnly drops everything below Warning. It lets stderr stay quiet
// while the log file records debug output.
type warningsOnly struct {
	log.Emitter
}

// Emit implements log.Emitter.Emit.
func (w warningsOnly) Emit(depth int, level log.Level, timestamp time.Time, format string, v ...any) {
	if level == log.Warning {
		w.Emitter.Emit(depth+1, level, timestamp, format, v...)
	}
}

// fatalf writes a message to stderr and exits with error code 1.
func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "extfs: "+format+"\n", a...)
	os.Exit(1)
}
