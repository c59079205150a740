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

// Tree implements subcommands.Command for the "tree" command.
type Tree struct {
	depth int
}

// Name implements subcommands.Command.Name.
func (*Tree) Name() string {
	return "tree"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Tree) Synopsis() string {
	return "list the contents of directories recursively"
}

// Usage implements subcommands.Command.Usage.
func (*Tree) Usage() string {
	return `tree [flags] <image> [path] - print the directory tree below path, or the root.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Tree) SetFlags(f *flag.FlagSet) {
	f.IntVar(&t.depth, "depth", 0, "descend at most this many levels, 0 for no limit.")
}

// Execute implements subcommands.Command.Execute.
func (t *Tree) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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
	fmt.Fprintln(os.Stdout, h.File().Path)
	if err := t.walk(ctx, os.Stdout, h, "", 1); err != nil {
		return failure(err)
	}
	return subcommands.ExitSuccess
}

// walk prints the entries of the directory dir, indented by prefix, and
// descends into subdirectories.
func (t *Tree) walk(ctx context.Context, w io.Writer, dir *extfs.Handle, prefix string, depth int) error {
	if !dir.File().IsDir() {
		return nil
	}
	ents, err := readDir(ctx, dir, false)
	if err != nil {
		return err
	}
	for i, fi := range ents {
		if err := ctx.Err(); err != nil {
			return err
		}
		branch, indent := "├── ", "│   "
		if i == len(ents)-1 {
			branch, indent = "└── ", "    "
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, branch, fi.Name)
		if !fi.IsDir() || (t.depth > 0 && depth >= t.depth) {
			continue
		}
		child, err := dir.Open(ctx, fi.Name, extfs.ModeRead, 0)
		if err != nil {
			return err
		}
		err = t.walk(ctx, w, child, prefix+indent, depth+1)
		child.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
