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
	"golang.org/x/sync/errgroup"
	"gvisor.dev/extfs/pkg/extfs"
	"gvisor.dev/extfs/pkg/extfs/config"
	"gvisor.dev/extfs/pkg/log"
)

// Info implements subcommands.Command for the "info" command.
type Info struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Info) Name() string {
	return "info"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Info) Synopsis() string {
	return "display volume information of images"
}

// Usage implements subcommands.Command.Usage.
func (*Info) Usage() string {
	return `info [flags] <image>... - display the volume information of each image.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Info) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.format, "format", formatText, "output format: text (default), json, or yaml.")
}

// Execute implements subcommands.Command.Execute.
func (i *Info) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 || !validFormat(i.format) {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	infos, err := volumeInfos(ctx, conf, f.Args())
	if err != nil {
		return failure(err)
	}
	if err := i.write(os.Stdout, infos); err != nil {
		return failure(err)
	}
	return subcommands.ExitSuccess
}

// imageInfo is the volume information of one image.
type imageInfo struct {
	Image            string `json:"image" yaml:"image"`
	extfs.VolumeInfo `yaml:",inline"`
}

// volumeInfos mounts every image concurrently and returns their volume
// information in argument order. The first failure cancels the rest.
func volumeInfos(ctx context.Context, conf *config.Config, paths []string) ([]imageInfo, error) {
	infos := make([]imageInfo, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			img, err := openImage(ctx, conf, path)
			if err != nil {
				return err
			}
			defer img.Close()
			v, err := img.vol.OpenRoot().Info(ctx, extfs.InfoVolume)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			infos[i] = imageInfo{Image: path, VolumeInfo: v.(extfs.VolumeInfo)}
			log.Debugf("Volume info of %s: %+v", path, infos[i].VolumeInfo)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

func (i *Info) write(w io.Writer, infos []imageInfo) error {
	return encode(w, i.format, infos, func(w io.Writer) error {
		for n, info := range infos {
			if n > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s:\n", info.Image)
			if err := writeVolumeInfo(w, &info.VolumeInfo); err != nil {
				return err
			}
		}
		return nil
	})
}
