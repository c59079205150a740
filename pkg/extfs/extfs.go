// Copyright 2019 The gVisor Authors.
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

// Package extfs implements read-only ext(2/3/4) volumes.
//
// A Volume is mounted from any io.ReaderAt. Files are opened by path with
// Volume.Locate, which yields an OpenFile: an independent in-memory copy of
// the file's inode and the directory entry that named it. Handle wraps an
// OpenFile with a cursor and the file-handle operations (read, position,
// info) expected by host glue code; all mutating operations fail with
// fserr.WriteProtected.
package extfs

import (
	"context"
	"fmt"
	"time"

	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs/device"
	"gvisor.dev/extfs/pkg/log"
)

// corruptionLogEvery bounds how often corruption found while scanning is
// reported.
const corruptionLogEvery = time.Second

// readFromDisk reads len(p) bytes at off into p.
func (v *Volume) readFromDisk(ctx context.Context, off uint64, p []byte) error {
	if _, err := device.ReadFull(ctx, v.dev, p, int64(off)); err != nil {
		return err
	}
	return nil
}

// readBlock reads physical block blk into p, which must be one block long.
// Metadata blocks go through the block cache; p is always the caller's own
// buffer.
func (v *Volume) readBlock(ctx context.Context, blk uint64, p []byte) error {
	if blk >= v.blocksCount {
		return v.corrupted("block %d beyond the %d blocks of the volume", blk, v.blocksCount)
	}
	if v.cache.Get(blk, p) {
		return nil
	}
	if err := v.readFromDisk(ctx, blk*v.blockSize, p); err != nil {
		return err
	}
	v.cache.Put(blk, p)
	return nil
}

// corrupted logs a rate limited warning and returns a VolumeCorrupted error
// with the formatted message.
func (v *Volume) corrupted(format string, args ...any) error {
	err := fmt.Errorf(format+": %w", append(args, fserr.VolumeCorrupted)...)
	v.corruption.Warningf("ext: %v", err)
	return err
}

// defaultCorruptionLogger is the logger used when Mount is not given one.
func defaultCorruptionLogger() log.Logger {
	return log.BasicRateLimitedLogger(corruptionLogEvery)
}
