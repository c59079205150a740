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

package device

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
	"gvisor.dev/extfs/pkg/log"
)

// Retrying wraps a device and retries reads that fail with a transient
// error. Reads past the end of the device and permanent errors are returned
// immediately.
type Retrying struct {
	// Dev is the wrapped device.
	Dev io.ReaderAt

	// Retries is the maximum number of additional attempts.
	Retries uint64

	// Delay is the wait between attempts.
	Delay time.Duration
}

var _ ContextReaderAt = (*Retrying)(nil)

// transient reports whether err is worth retrying.
func transient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY)
}

// ReadAt implements io.ReaderAt.ReadAt.
func (r *Retrying) ReadAt(p []byte, off int64) (int, error) {
	return r.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext implements ContextReaderAt.ReadAtContext.
func (r *Retrying) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	var n int
	attempt := 0
	op := func() error {
		var err error
		n, err = r.Dev.ReadAt(p, off)
		if err == nil || n == len(p) {
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		attempt++
		log.Debugf("Transient read error at offset %d (attempt %d): %v", off, attempt, err)
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Delay), r.Retries), ctx)
	err := backoff.Retry(op, b)
	return n, err
}
