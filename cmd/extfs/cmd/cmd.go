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

// Package cmd holds implementations of the extfs commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs"
	"gvisor.dev/extfs/pkg/extfs/blockcache"
	"gvisor.dev/extfs/pkg/extfs/config"
	"gvisor.dev/extfs/pkg/extfs/device"
	"gvisor.dev/extfs/pkg/log"
)

// failure reports err on stderr with the errno it maps to and returns
// ExitFailure.
func failure(err error) subcommands.ExitStatus {
	errno := fserr.ToUnix(err)
	fmt.Fprintf(os.Stderr, "extfs: %v (%s)\n", err, unix.ErrnoName(errno))
	log.Warningf("Command failed with %s: %v", unix.ErrnoName(errno), err)
	return subcommands.ExitFailure
}

// image is a mounted image file.
type image struct {
	vol   *extfs.Volume
	dev   *device.File
	cache *blockcache.Cache
}

// openImage opens and mounts the image at path as configured by conf.
func openImage(ctx context.Context, conf *config.Config, path string) (*image, error) {
	dev, err := device.Open(path, conf.LockDevice)
	if err != nil {
		return nil, err
	}
	var raw io.ReaderAt = dev
	if conf.IORetries > 0 {
		raw = &device.Retrying{Dev: dev, Retries: conf.IORetries, Delay: conf.IORetryDelay}
	}
	cache := blockcache.New(conf.CacheBlocks)
	vol, err := extfs.Mount(ctx, raw, extfs.WithBlockCache(cache))
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("mounting %s: %w", path, err)
	}
	return &image{vol: vol, dev: dev, cache: cache}, nil
}

// open opens path inside the image. Relative paths start at the root.
func (i *image) open(ctx context.Context, path string) (*extfs.Handle, error) {
	if path == "" {
		path = "/"
	}
	return i.vol.OpenRoot().Open(ctx, path, extfs.ModeRead, 0)
}

// Close releases the image file.
func (i *image) Close() error {
	if i.cache != nil {
		hits, misses := i.cache.Stats()
		log.Debugf("Block cache for %s: %d hits, %d misses, %d blocks held", i.dev.Name(), hits, misses, i.cache.Len())
	}
	return i.dev.Close()
}

// handleReader adapts a Handle to io.Reader.
type handleReader struct {
	ctx context.Context
	h   *extfs.Handle
}

// Read implements io.Reader.Read.
func (r handleReader) Read(p []byte) (int, error) {
	return r.h.Read(r.ctx, p)
}

// readDir returns the remaining entries of the directory h, without the
// self and parent entries unless all is set.
func readDir(ctx context.Context, h *extfs.Handle, all bool) ([]extfs.FileInfo, error) {
	var ents []extfs.FileInfo
	for {
		fi, err := h.ReadDir(ctx)
		if err == io.EOF {
			return ents, nil
		}
		if err != nil {
			return nil, err
		}
		if !all && (fi.Name == "." || fi.Name == "..") {
			continue
		}
		ents = append(ents, fi)
	}
}

// fileInfo returns the FileInfo of h.
func fileInfo(ctx context.Context, h *extfs.Handle) (extfs.FileInfo, error) {
	v, err := h.Info(ctx, extfs.InfoFile)
	if err != nil {
		return extfs.FileInfo{}, err
	}
	return v.(extfs.FileInfo), nil
}
