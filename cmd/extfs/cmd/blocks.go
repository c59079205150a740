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

// Blocks implements subcommands.Command for the "blocks" command.
type Blocks struct{}

// Name implements subcommands.Command.Name.
func (*Blocks) Name() string {
	return "blocks"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Blocks) Synopsis() string {
	return "show where the data of a file lives on the device"
}

// Usage implements subcommands.Command.Usage.
func (*Blocks) Usage() string {
	return `blocks <image> <path> - print the physical block runs of a file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Blocks) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (b *Blocks) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
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
	runs, err := blockRuns(ctx, h.File())
	if err != nil {
		return failure(err)
	}
	if err := writeRuns(os.Stdout, h.File(), runs); err != nil {
		return failure(err)
	}
	return subcommands.ExitSuccess
}

// blockRun is a range of logical blocks stored in consecutive physical
// blocks.
type blockRun struct {
	Logical  uint64
	Physical uint64
	Length   uint64
}

// blockRuns resolves every block of f and merges physically contiguous
// neighbours.
func blockRuns(ctx context.Context, f *extfs.OpenFile) ([]blockRun, error) {
	if _, ok := f.Inode.Mapping.(extfs.InlineMapping); ok {
		return nil, nil
	}
	bs := f.Volume().BlockSize()
	n := (f.Inode.Size + bs - 1) / bs
	var runs []blockRun
	for lb := uint64(0); lb < n; lb++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loc, err := f.Resolve(ctx, lb*bs)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 {
			last := &runs[len(runs)-1]
			if last.Physical+last.Length == loc.Block {
				last.Length++
				continue
			}
		}
		runs = append(runs, blockRun{Logical: lb, Physical: loc.Block, Length: 1})
	}
	return runs, nil
}

func writeRuns(w io.Writer, f *extfs.OpenFile, runs []blockRun) error {
	kind := "block map"
	switch f.Inode.Mapping.(type) {
	case extfs.ExtentMapping:
		kind = "extents"
	case extfs.InlineMapping:
		kind = "inline"
	}
	fmt.Fprintf(w, "%s: inode %d, %d bytes, %s\n", f.Path, f.Inode.Number, f.Inode.Size, kind)
	for _, r := range runs {
		if _, err := fmt.Fprintf(w, "  %d-%d: %d-%d\n", r.Logical, r.Logical+r.Length-1, r.Physical, r.Physical+r.Length-1); err != nil {
			return err
		}
	}
	return nil
}
