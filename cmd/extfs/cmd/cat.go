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
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs"
	"gvisor.dev/extfs/pkg/extfs/config"
)

// sniffLen is how much of a file is inspected for binary data.
const sniffLen = 512

// Cat implements subcommands.Command for the "cat" command.
type Cat struct {
	force bool
}

// Name implements subcommands.Command.Name.
func (*Cat) Name() string {
	return "cat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Cat) Synopsis() string {
	return "write files of an image to stdout"
}

// Usage implements subcommands.Command.Usage.
func (*Cat) Usage() string {
	return `cat [flags] <image> <path>... - concatenate files to stdout.

Binary files are not written to a terminal unless -force is set.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Cat) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.force, "force", false, "write binary data to a terminal.")
}

// Execute implements subcommands.Command.Execute.
func (c *Cat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	img, err := openImage(ctx, conf, f.Arg(0))
	if err != nil {
		return failure(err)
	}
	defer img.Close()

	isTerm := term.IsTerminal(int(os.Stdout.Fd()))
	for _, path := range f.Args()[1:] {
		h, err := img.open(ctx, path)
		if err != nil {
			return failure(err)
		}
		err = c.cat(ctx, os.Stdout, isTerm, h)
		h.Close()
		if err != nil {
			return failure(err)
		}
	}
	return subcommands.ExitSuccess
}

// cat copies the contents of h to w. When w is a terminal, files that look
// binary are refused unless forced.
func (c *Cat) cat(ctx context.Context, w io.Writer, isTerm bool, h *extfs.Handle) error {
	path := h.File().Path
	if h.File().IsDir() {
		return fmt.Errorf("%s is a directory: %w", path, fserr.Unsupported)
	}
	r := handleReader{ctx: ctx, h: h}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	switch err {
	case nil, io.EOF, io.ErrUnexpectedEOF:
	default:
		return err
	}
	head = head[:n]
	if isTerm && !c.force && bytes.IndexByte(head, 0) >= 0 {
		return fmt.Errorf("%s looks binary, not writing it to a terminal (use -force): %w", path, fserr.InvalidParameter)
	}
	if _, err := w.Write(head); err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}
