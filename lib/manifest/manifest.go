// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest parses and builds package packing lists, the
// +CONTENTS entry of a package archive.
//
// A packing list is line-based. Directives start with "@"; bare lines
// name payload paths relative to the @cwd prefix, with a trailing
// slash marking a directory to create. The annotations @sha, @size,
// @ts, and @sample attach to the most recent file line. A @sample
// argument ending in a slash is instead a standalone
// directory-creation directive (sample directories may live outside
// the prefix, so their paths are absolute).
//
// Unknown directives are collected in [Manifest.Skipped] rather than
// rejected: foreign packages carry annotations this minimal manager
// does not act on. Structural requirements (header comment, @name,
// @arch, @cwd) are enforced by [Manifest.Validate] before any caller
// touches the filesystem.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

const (
	// FileName is the archive entry name of the packing list.
	FileName = "+CONTENTS"

	// DescriptionName is the archive entry name of the package
	// description.
	DescriptionName = "+DESC"

	// WildcardArch is the only architecture marker distribute emits;
	// packages are configuration and scripts, not compiled objects.
	WildcardArch = "*"
)

// EntryKind distinguishes packing-list entries.
type EntryKind int

const (
	// EntryFile is a payload file extracted under the @cwd prefix.
	EntryFile EntryKind = iota + 1

	// EntryDir is a directory created under the @cwd prefix, from a
	// bare line with a trailing slash.
	EntryDir

	// EntrySampleDir is a directory created at an absolute path, from
	// a @sample directive with a trailing slash.
	EntrySampleDir
)

// Entry is one payload line of the packing list, in file order. Order
// matters twice: extraction creates entries first-to-last, and
// deletion removes directories last-to-first so nested directories
// empty out before their parents.
type Entry struct {
	Kind EntryKind

	// Path is the entry path. Relative to the @cwd prefix for
	// EntryFile and EntryDir (no trailing slash stored); absolute for
	// EntrySampleDir.
	Path string

	// SHA is the base64 SHA-256 of the file contents from @sha, or ""
	// when absent. Files only.
	SHA string

	// Size is the byte size from @size, -1 when absent. Files only.
	Size int64

	// Timestamp is the modification time from @ts as a Unix epoch,
	// -1 when absent. Files only.
	Timestamp int64

	// SamplePath is the @sample destination this file should be
	// copied to when that destination does not exist yet, or "" for a
	// regular file. The destination is outside the package's payload
	// and survives upgrades when edited (see the package manager's
	// sample rules).
	SamplePath string
}

// Manifest is a parsed packing list.
type Manifest struct {
	// Comments holds the @comment lines in order. The first one is
	// the header comment Validate requires.
	Comments []string

	// Name is the package identity from @name (stem-version).
	Name string

	// Arch is the architecture marker from @arch.
	Arch string

	// Prefix is the extraction prefix from @cwd.
	Prefix string

	// Entries are the payload lines in file order.
	Entries []Entry

	// Skipped holds directives this parser does not act on, verbatim,
	// for callers that want to log them.
	Skipped []string
}

// Parse reads a packing list. Parse errors carry the 1-based line
// number. Duplicate @name, @arch, or @cwd lines are errors; an
// annotation with no preceding file line is an error.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}

	// Index into m.Entries of the file the next annotation attaches
	// to. An index, not a pointer: append moves the backing array.
	lastFile := -1

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !strings.HasPrefix(line, "@") {
			entry := Entry{Kind: EntryFile, Path: line, Size: -1, Timestamp: -1}
			if strings.HasSuffix(line, "/") {
				entry.Kind = EntryDir
				entry.Path = strings.TrimSuffix(line, "/")
				m.Entries = append(m.Entries, entry)
				lastFile = -1
				continue
			}
			m.Entries = append(m.Entries, entry)
			lastFile = len(m.Entries) - 1
			continue
		}

		directive, argument, _ := strings.Cut(line[1:], " ")
		switch directive {
		case "comment":
			m.Comments = append(m.Comments, argument)
		case "name":
			if m.Name != "" {
				return nil, fmt.Errorf("line %d: duplicate @name", lineNumber)
			}
			if argument == "" {
				return nil, fmt.Errorf("line %d: @name without a value", lineNumber)
			}
			m.Name = argument
		case "arch":
			if m.Arch != "" {
				return nil, fmt.Errorf("line %d: duplicate @arch", lineNumber)
			}
			if argument == "" {
				return nil, fmt.Errorf("line %d: @arch without a value", lineNumber)
			}
			m.Arch = argument
		case "cwd":
			if m.Prefix != "" {
				return nil, fmt.Errorf("line %d: duplicate @cwd", lineNumber)
			}
			if argument == "" {
				return nil, fmt.Errorf("line %d: @cwd without a value", lineNumber)
			}
			m.Prefix = argument
		case "sha":
			if lastFile < 0 {
				return nil, fmt.Errorf("line %d: @sha with no preceding file", lineNumber)
			}
			m.Entries[lastFile].SHA = argument
		case "size":
			if lastFile < 0 {
				return nil, fmt.Errorf("line %d: @size with no preceding file", lineNumber)
			}
			size, err := strconv.ParseInt(argument, 10, 64)
			if err != nil || size < 0 {
				return nil, fmt.Errorf("line %d: bad @size %q", lineNumber, argument)
			}
			m.Entries[lastFile].Size = size
		case "ts":
			if lastFile < 0 {
				return nil, fmt.Errorf("line %d: @ts with no preceding file", lineNumber)
			}
			ts, err := strconv.ParseInt(argument, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad @ts %q", lineNumber, argument)
			}
			m.Entries[lastFile].Timestamp = ts
		case "sample":
			if argument == "" {
				return nil, fmt.Errorf("line %d: @sample without a value", lineNumber)
			}
			if strings.HasSuffix(argument, "/") {
				m.Entries = append(m.Entries, Entry{
					Kind: EntrySampleDir,
					Path: strings.TrimSuffix(argument, "/"),
					Size: -1, Timestamp: -1,
				})
				continue
			}
			if lastFile < 0 {
				return nil, fmt.Errorf("line %d: @sample with no preceding file", lineNumber)
			}
			if m.Entries[lastFile].SamplePath != "" {
				return nil, fmt.Errorf("line %d: file %s already has a sample destination", lineNumber, m.Entries[lastFile].Path)
			}
			m.Entries[lastFile].SamplePath = argument
		default:
			m.Skipped = append(m.Skipped, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading packing list: %w", err)
	}

	return m, nil
}

// Validate enforces the structural markers an archive must carry
// before any extraction is allowed: a header comment, @arch *, a @cwd
// equal to wantPrefix, and a @name equal to wantName (the package
// file's own stem). Any miss is a hard failure.
func (m *Manifest) Validate(wantName, wantPrefix string) error {
	if len(m.Comments) == 0 {
		return fmt.Errorf("packing list has no header comment")
	}
	if m.Name == "" {
		return fmt.Errorf("packing list has no @name")
	}
	if wantName != "" && m.Name != wantName {
		return fmt.Errorf("packing list @name %q does not match package name %q", m.Name, wantName)
	}
	if m.Arch != WildcardArch {
		return fmt.Errorf("packing list @arch %q, want %q", m.Arch, WildcardArch)
	}
	if m.Prefix == "" {
		return fmt.Errorf("packing list has no @cwd")
	}
	if wantPrefix != "" && m.Prefix != wantPrefix {
		return fmt.Errorf("packing list @cwd %q, want %q", m.Prefix, wantPrefix)
	}
	return nil
}

// Files returns the EntryFile entries in file order.
func (m *Manifest) Files() []Entry {
	var files []Entry
	for _, entry := range m.Entries {
		if entry.Kind == EntryFile {
			files = append(files, entry)
		}
	}
	return files
}

// Dirs returns the EntryDir entries in file order.
func (m *Manifest) Dirs() []Entry {
	var dirs []Entry
	for _, entry := range m.Entries {
		if entry.Kind == EntryDir {
			dirs = append(dirs, entry)
		}
	}
	return dirs
}

// HasFile reports whether the packing list contains a file entry with
// the exact relative path.
func (m *Manifest) HasFile(path string) bool {
	for _, entry := range m.Entries {
		if entry.Kind == EntryFile && entry.Path == path {
			return true
		}
	}
	return false
}

// SampleSource returns the packing-list path whose contents should be
// copied to entry's sample destination. When the list also packs an
// overlay sibling, <dir>/<overlayPrefix>.<basename>, that platform
// override wins over the stock file. An empty overlayPrefix disables
// the lookup.
func (m *Manifest) SampleSource(entry Entry, overlayPrefix string) string {
	if overlayPrefix == "" {
		return entry.Path
	}
	dir, base := path.Split(entry.Path)
	overlay := dir + overlayPrefix + "." + base
	if m.HasFile(overlay) {
		return overlay
	}
	return entry.Path
}

// Encode renders the packing list in directive order: comments, @name,
// @arch, @cwd, then entries. Annotations follow their file line.
func (m *Manifest) Encode() []byte {
	var out bytes.Buffer
	for _, comment := range m.Comments {
		fmt.Fprintf(&out, "@comment %s\n", comment)
	}
	if m.Name != "" {
		fmt.Fprintf(&out, "@name %s\n", m.Name)
	}
	if m.Arch != "" {
		fmt.Fprintf(&out, "@arch %s\n", m.Arch)
	}
	if m.Prefix != "" {
		fmt.Fprintf(&out, "@cwd %s\n", m.Prefix)
	}
	for _, entry := range m.Entries {
		switch entry.Kind {
		case EntryDir:
			fmt.Fprintf(&out, "%s/\n", entry.Path)
		case EntrySampleDir:
			fmt.Fprintf(&out, "@sample %s/\n", entry.Path)
		case EntryFile:
			fmt.Fprintf(&out, "%s\n", entry.Path)
			if entry.SHA != "" {
				fmt.Fprintf(&out, "@sha %s\n", entry.SHA)
			}
			if entry.Size >= 0 {
				fmt.Fprintf(&out, "@size %d\n", entry.Size)
			}
			if entry.Timestamp >= 0 {
				fmt.Fprintf(&out, "@ts %d\n", entry.Timestamp)
			}
			if entry.SamplePath != "" {
				fmt.Fprintf(&out, "@sample %s\n", entry.SamplePath)
			}
		}
	}
	return out.Bytes()
}
