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

package cmd

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/extfs/pkg/extfs/config"
)

// Stat implements subcommands.Command for the "stat" command.
type Stat struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Stat) Name() string {
	return "stat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stat) Synopsis() string {
	return "display file metadata"
}

// Usage implements subcommands.Command.Usage.
func (*Stat) Usage() string {
	return `stat [flags] <image> <path>... - display the metadata of files in an image.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stat) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.format, "format", formatText, "output format: text (default), json, or yaml.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 || !validFormat(s.format) {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	img, err := openImage(ctx, conf, f.Arg(0))
	if err != nil {
		return failure(err)
	}
	defer img.Close()

	for _, path := range f.Args()[1:] {
		if err := s.stat(ctx, os.Stdout, img, path); err != nil {
			return failure(err)
		}
	}
	return subcommands.ExitSuccess
}

func (s *Stat) stat(ctx context.Context, w io.Writer, img *image, path string) error {
	h, err := img.open(ctx, path)
	if err != nil {
		return err
	}
	defer h.Close()
	fi, err := fileInfo(ctx, h)
	if err != nil {
		return err
	}
	return encode(w, s.format, &fi, func(w io.Writer) error {
		return writeFileInfo(w, &fi)
	})
}
