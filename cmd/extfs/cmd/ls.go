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
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/extfs/pkg/extfs"
	"gvisor.dev/extfs/pkg/extfs/config"
)

// Ls implements subcommands.Command for the "ls" command.
type Ls struct {
	long bool
	all  bool
}

// Name implements subcommands.Command.Name.
func (*Ls) Name() string {
	return "ls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Ls) Synopsis() string {
	return "list a directory of an image"
}

// Usage implements subcommands.Command.Usage.
func (*Ls) Usage() string {
	return `ls [flags] <image> [path] - list the directory at path, or the root.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Ls) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.long, "l", false, "use a long listing format.")
	f.BoolVar(&l.all, "a", false, "include the . and .. entries.")
}

// Execute implements subcommands.Command.Execute.
func (l *Ls) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	img, err := openImage(ctx, conf, f.Arg(0))
	if err != nil {
		return failure(err)
	}
	defer img.Close()

	h, err := img.open(ctx, f.Arg(1))
	if err != nil {
		return failure(err)
	}
	defer h.Close()
	if err := l.list(ctx, os.Stdout, h); err != nil {
		return failure(err)
	}
	return subcommands.ExitSuccess
}

// list writes the entries of h, or h itself if it is not a directory.
func (l *Ls) list(ctx context.Context, w io.Writer, h *extfs.Handle) error {
	var ents []extfs.FileInfo
	if h.File().IsDir() {
		var err error
		if ents, err = readDir(ctx, h, l.all); err != nil {
			return err
		}
	} else {
		fi, err := fileInfo(ctx, h)
		if err != nil {
			return err
		}
		ents = append(ents, fi)
	}

	if l.long {
		return writeLong(w, ents)
	}
	for _, fi := range ents {
		name := fi.Name
		if fi.IsDir() {
			name += "/"
		}
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
	}
	return nil
}
