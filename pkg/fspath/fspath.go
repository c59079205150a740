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

// Package fspath provides efficient tools for working with file paths in
// filesystem drivers, and the canonical absolute form used to name open
// files.
package fspath

import (
	"fmt"
	"strings"

	"gvisor.dev/extfs/pkg/errors/fserr"
)

const (
	// Separator separates path components.
	Separator = '/'

	// Root is the canonical path of the root directory.
	Root = "/"

	// MaxComponentLen is the longest name a directory entry can hold.
	MaxComponentLen = 255
)

// Parse parses a pathname as described by path_resolution(7), except that
// empty pathnames are valid and produce a Path with no components.
func Parse(pathname string) Path {
	var p Path
	if pathname == "" {
		return p
	}
	// Skip leading slashes.
	for pathname[0] == Separator {
		p.Absolute = true
		if len(pathname) == 1 {
			p.Dir = true
			return p
		}
		pathname = pathname[1:]
	}
	// Skip trailing slashes.
	for pathname[len(pathname)-1] == Separator {
		p.Dir = true
		if len(pathname) == 1 {
			return p
		}
		pathname = pathname[:len(pathname)-1]
	}
	p.Begin = Iterator{partialPathname: pathname}
	p.Begin.updateEnd()
	return p
}

// Path contains the information contained in a pathname string.
//
// Path is copyable by value. The zero value for Path is equivalent to
// fspath.Parse(""), i.e. the empty path.
type Path struct {
	// Begin is an iterator to the first path component in the relative part
	// of the path.
	//
	// Path doesn't store information about path components after the first
	// since this would require allocation.
	Begin Iterator

	// If true, the path is absolute, such that lookup should begin at the
	// filesystem root. If false, the path is relative, such that where lookup
	// begins is unspecified.
	Absolute bool

	// If true, the pathname contains trailing path separators, so the last
	// path component must exist and resolve to a directory.
	Dir bool
}

// String returns a pathname string equivalent to p. Note that the returned
// string is not necessarily equal to the string p was parsed from; in
// particular, redundant path separators will not be present.
func (p Path) String() string {
	var b strings.Builder
	if p.Absolute {
		b.WriteByte(Separator)
	}
	sep := false
	for pit := p.Begin; pit.Ok(); pit = pit.Next() {
		if sep {
			b.WriteByte(Separator)
		}
		b.WriteString(pit.String())
		sep = true
	}
	// Don't return "//" for Parse("/").
	if p.Dir && p.Begin.Ok() {
		b.WriteByte(Separator)
	}
	return b.String()
}

// An Iterator represents either a path component in a Path or a terminal
// iterator indicating that the end of the path has been reached.
//
// Iterator is immutable and copyable by value. The zero value of Iterator is
// valid, and represents a terminal iterator.
type Iterator struct {
	// partialPathname is a substring of the original pathname beginning at the
	// start of the represented path component and ending immediately after the
	// end of the last path component in the pathname. If partialPathname is
	// empty, the PathnameIterator is terminal.
	partialPathname string

	// end is the offset into partialPathname of the first byte after the end
	// of the represented path component.
	end int
}

func (it *Iterator) updateEnd() {
	if i := strings.IndexByte(it.partialPathname, Separator); i >= 0 {
		it.end = i
	} else {
		it.end = len(it.partialPathname)
	}
}

// Ok returns true if it is not terminal.
func (it Iterator) Ok() bool {
	return len(it.partialPathname) != 0
}

// String returns the path component represented by it.
//
// Preconditions: it.Ok().
func (it Iterator) String() string {
	return it.partialPathname[:it.end]
}

// Next returns an iterator to the path component after it. If it is the last
// component in the path, Next returns a terminal iterator.
//
// Preconditions: it.Ok().
func (it Iterator) Next() Iterator {
	if it.end == len(it.partialPathname) {
		// At a terminal iterator.
		return Iterator{}
	}
	// Skip past the separator and any redundant separators.
	partialPathname := it.partialPathname[it.end+1:]
	for partialPathname != "" && partialPathname[0] == Separator {
		partialPathname = partialPathname[1:]
	}
	it = Iterator{partialPathname: partialPathname}
	it.updateEnd()
	return it
}

// NextOk is equivalent to it.Next().Ok(), but is faster.
//
// Preconditions: it.Ok().
func (it Iterator) NextOk() bool {
	return it.end != len(it.partialPathname)
}

// ValidComponent checks a single name against the limits of a directory
// entry: between 1 and MaxComponentLen bytes, without NUL or separator.
func ValidComponent(name string) error {
	if len(name) == 0 || len(name) > MaxComponentLen {
		return fmt.Errorf("name %q: length %d not in [1, %d]: %w", name, len(name), MaxComponentLen, fserr.InvalidParameter)
	}
	if strings.IndexByte(name, 0) >= 0 || strings.IndexByte(name, Separator) >= 0 {
		return fmt.Errorf("name %q: contains NUL or separator: %w", name, fserr.InvalidParameter)
	}
	return nil
}

// Canonicalize resolves name against the canonical directory path base and
// returns the canonical absolute result.
//
// A name starting with the separator resets to the root. "." components are
// dropped; ".." removes the last accumulated component and fails with
// InvalidParameter at the root. Every other component must pass
// ValidComponent.
func Canonicalize(base, name string) (string, error) {
	p := Parse(name)

	var comps []string
	if !p.Absolute {
		for it := Parse(base).Begin; it.Ok(); it = it.Next() {
			comps = append(comps, it.String())
		}
	}

	for it := p.Begin; it.Ok(); it = it.Next() {
		switch c := it.String(); c {
		case ".":
		case "..":
			if len(comps) == 0 {
				return "", fmt.Errorf("%q: %q above the root: %w", name, "..", fserr.InvalidParameter)
			}
			comps = comps[:len(comps)-1]
		default:
			if err := ValidComponent(c); err != nil {
				return "", err
			}
			comps = append(comps, c)
		}
	}
	return Join(comps...), nil
}

// Join builds a canonical absolute path from components.
func Join(comps ...string) string {
	return Root + strings.Join(comps, string(Separator))
}

// Child returns the canonical path of name inside the directory dir.
func Child(dir, name string) string {
	if dir == Root {
		return Root + name
	}
	return dir + string(Separator) + name
}

// Suffix reports whether the canonical path full lies at or below the
// canonical directory path parent, and if so returns the remaining relative
// part. The split is always on a component boundary.
func Suffix(parent, full string) (string, bool) {
	if parent == Root {
		return strings.TrimPrefix(full, Root), strings.HasPrefix(full, Root)
	}
	if !strings.HasPrefix(full, parent) {
		return "", false
	}
	rest := full[len(parent):]
	switch {
	case rest == "":
		return "", true
	case rest[0] == Separator:
		return rest[1:], true
	default:
		return "", false
	}
}
