// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lippard661/distribute/lib/pkgver"
)

// LookupLegacy probes for a pre-registry installation of stem by the
// versioned documentation directory convention,
// <prefix>/share/doc/<stem>-<version>. Used only after Lookup misses:
// hosts that received packages before the registry existed still have
// doc directories, and treating such a package as absent would
// reinstall over a live installation.
//
// The returned entry has Legacy set and carries no packing list, so
// callers can report the installed version but cannot upgrade through
// the normal removal path.
func (r *Registry) LookupLegacy(prefix, stem string) (*Entry, error) {
	docRoot := filepath.Join(prefix, "share", "doc")
	dirEntries, err := os.ReadDir(docRoot)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, stem)
	}
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", docRoot, err)
	}

	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}
		name := dirEntry.Name()
		if !pkgver.HasStem(name, stem) || name == stem {
			continue
		}
		// The directory name must carry a parsable version; plain
		// doc directories ("foo") are not installation evidence.
		if _, version, _, err := pkgver.SplitIdentity(name); err == nil {
			if _, err := pkgver.Parse(version); err == nil {
				return &Entry{Identity: name, Legacy: true}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, stem)
}
