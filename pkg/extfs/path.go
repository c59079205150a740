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

package extfs

import (
	"context"
	"fmt"

	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/fspath"
	"gvisor.dev/extfs/pkg/log"
)

// childPath returns the canonical path of the entry name in the directory
// dir. The self and parent entries map to dir and its parent.
func childPath(dir, name string) (string, error) {
	switch name {
	case ".":
		return dir, nil
	case "..":
		if dir == fspath.Root {
			return dir, nil
		}
		return fspath.Canonicalize(dir, name)
	}
	if err := fspath.ValidComponent(name); err != nil {
		return "", err
	}
	return fspath.Child(dir, name), nil
}

// Locate opens name relative to the directory parent, or relative to the
// root if parent is nil. A name starting with a separator is absolute.
//
// The walk starts at parent when the target lies below it and at the root
// otherwise; both give the same result. Every call reads each inode on the
// way afresh.
func (v *Volume) Locate(ctx context.Context, parent *OpenFile, name string) (*OpenFile, error) {
	if name == "" {
		return nil, fmt.Errorf("empty name: %w", fserr.InvalidParameter)
	}
	if parent == nil {
		parent = v.root
	}
	full, err := fspath.Canonicalize(parent.Path, name)
	if err != nil {
		return nil, err
	}

	start := parent
	rest, ok := fspath.Suffix(parent.Path, full)
	if !ok {
		start = v.root
		rest, _ = fspath.Suffix(fspath.Root, full)
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("ext: locate %q from %q: %q below %q", name, parent.Path, rest, start.Path)
	}

	cur := start.clone()
	for it := fspath.Parse(rest).Begin; it.Ok(); it = it.Next() {
		comp := it.String()
		d, err := cur.FindEntry(ctx, []byte(comp))
		if err != nil {
			return nil, err
		}
		path := fspath.Child(cur.Path, comp)
		in, err := v.ReadInode(ctx, d.Inode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if it.NextOk() && !in.IsDir() {
			return nil, fmt.Errorf("%s is not a directory: %w", path, fserr.Unsupported)
		}
		cur = &OpenFile{
			vol:   v,
			Inode: *in,
			Entry: d,
			Path:  path,
		}
	}
	return cur, nil
}
