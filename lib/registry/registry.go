// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry maintains the on-disk record of installed
// packages: one directory per package identity under the registry
// root, each holding the packing list and description exactly as
// installed.
//
// The registry is the sole source of truth for "is X installed, and
// at what version". The package manager never infers installed state
// by scanning payload files; the one exception is the legacy doc-dir
// probe in [Registry.LookupLegacy], kept for hosts whose packages
// predate the registry.
package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lippard661/distribute/lib/manifest"
	"github.com/lippard661/distribute/lib/pkgver"
)

// ErrNotFound is returned by Lookup when no installed package matches
// the stem.
var ErrNotFound = errors.New("registry: package not found")

// Entry is one installed package's registry record.
type Entry struct {
	// Identity is the full package identity (stem-version[-variant]).
	Identity string

	// Contents is the packing list as installed, verbatim.
	Contents []byte

	// Description is the package description as installed, verbatim.
	// May be empty for packages registered without one.
	Description []byte

	// Legacy is true when the entry was synthesized from the legacy
	// doc-directory probe rather than read from the registry proper.
	// Legacy entries have no Contents or Description.
	Legacy bool
}

// DescriptionOneLiner returns the first non-empty line of the
// description, for listings.
func (e *Entry) DescriptionOneLiner() string {
	scanner := bufio.NewScanner(strings.NewReader(string(e.Description)))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}

// Manifest parses the entry's packing list.
func (e *Entry) Manifest() (*manifest.Manifest, error) {
	return manifest.Parse(strings.NewReader(string(e.Contents)))
}

// Registry is a directory-per-package installed-package database.
type Registry struct {
	root string
}

// Open returns a Registry rooted at dir. The directory need not exist
// yet; it is created on first Register.
func Open(dir string) *Registry {
	return &Registry{root: dir}
}

// Root returns the registry root directory.
func (r *Registry) Root() string { return r.root }

// entryDir returns the directory for a package identity.
func (r *Registry) entryDir(identity string) string {
	return filepath.Join(r.root, identity)
}

// Lookup finds the installed package matching stem: either the exact
// identity or the stem followed by a version boundary, so "foo" never
// matches an installed "foobar-1.0". Returns ErrNotFound when nothing
// matches.
func (r *Registry) Lookup(stem string) (*Entry, error) {
	dirEntries, err := os.ReadDir(r.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, stem)
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", r.root, err)
	}

	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}
		if pkgver.HasStem(dirEntry.Name(), stem) {
			return r.read(dirEntry.Name())
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, stem)
}

// read loads a registry entry by exact identity.
func (r *Registry) read(identity string) (*Entry, error) {
	dir := r.entryDir(identity)

	contents, err := os.ReadFile(filepath.Join(dir, manifest.FileName))
	if err != nil {
		return nil, fmt.Errorf("reading registry entry %s: %w", identity, err)
	}
	description, err := os.ReadFile(filepath.Join(dir, manifest.DescriptionName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading registry entry %s: %w", identity, err)
	}

	return &Entry{
		Identity:    identity,
		Contents:    contents,
		Description: description,
	}, nil
}

// Register records an installed package. The registry directory and
// the per-package directory are created as needed; an existing entry
// for the same identity is overwritten (re-registration after a
// repair is idempotent).
func (r *Registry) Register(identity string, contents, description []byte) error {
	if identity == "" || strings.ContainsAny(identity, "/") {
		return fmt.Errorf("registry: invalid package identity %q", identity)
	}

	dir := r.entryDir(identity)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating registry entry %s: %w", identity, err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), contents, 0644); err != nil {
		return fmt.Errorf("writing packing list for %s: %w", identity, err)
	}
	if len(description) > 0 {
		if err := os.WriteFile(filepath.Join(dir, manifest.DescriptionName), description, 0644); err != nil {
			return fmt.Errorf("writing description for %s: %w", identity, err)
		}
	}
	return nil
}

// Deregister removes a package's registry entry: files first, then
// the entry directory. Removing an absent entry is not an error.
func (r *Registry) Deregister(identity string) error {
	dir := r.entryDir(identity)

	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading registry entry %s: %w", identity, err)
	}
	for _, dirEntry := range dirEntries {
		if err := os.Remove(filepath.Join(dir, dirEntry.Name())); err != nil {
			return fmt.Errorf("removing registry file: %w", err)
		}
	}
	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("removing registry entry %s: %w", identity, err)
	}
	return nil
}

// Listing is one row of ListAll.
type Listing struct {
	Identity    string
	Description string
}

// ListAll returns all installed packages sorted by identity, each
// with its one-line description.
func (r *Registry) ListAll() ([]Listing, error) {
	dirEntries, err := os.ReadDir(r.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", r.root, err)
	}

	var listings []Listing
	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}
		entry, err := r.read(dirEntry.Name())
		if err != nil {
			return nil, err
		}
		listings = append(listings, Listing{
			Identity:    entry.Identity,
			Description: entry.DescriptionOneLiner(),
		})
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].Identity < listings[j].Identity
	})
	return listings, nil
}
