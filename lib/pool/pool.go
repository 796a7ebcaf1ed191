// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool scans the source host's package pool: the directory of
// versioned package archives (<stem>-<version>[-variant].tgz) that
// distribution selects from. [Pool.FindLatest] answers "the newest
// archive for this stem" using the version comparator, decoupling
// version ordering from directory scanning.
//
// Scanning digests every archive, so results are cached in an index
// file inside the pool directory. The cache is invalidated by the
// pool directory's modification time; a corrupt or stale cache falls
// back to a fresh scan and is never an operational failure.
package pool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lippard661/distribute/lib/bundle"
	"github.com/lippard661/distribute/lib/pkgver"
)

// Extension is the package archive suffix the pool recognizes.
const Extension = ".tgz"

// ErrNoPackage is returned by FindLatest when the pool holds no
// archive for the stem.
var ErrNoPackage = errors.New("pool: no package for stem")

// Candidate is one archive in the pool.
type Candidate struct {
	// Path is the absolute archive path.
	Path string `cbor:"path"`

	// Identity is the package identity (stem-version[-variant]).
	Identity string `cbor:"identity"`

	// Stem and Version are the split identity.
	Stem    string `cbor:"stem"`
	Version string `cbor:"version"`

	// Size and ModTime describe the archive file.
	Size    int64 `cbor:"size"`
	ModTime int64 `cbor:"mtime"`

	// Digest is the hex BLAKE3 bundle digest of the archive.
	Digest string `cbor:"digest"`
}

// Pool is a package pool directory.
type Pool struct {
	dir       string
	indexPath string
}

// New returns a Pool over dir. The index cache lives at
// <dir>/.index; it is ignored by scans.
func New(dir string) *Pool {
	return &Pool{dir: dir, indexPath: filepath.Join(dir, indexFileName)}
}

// Dir returns the pool directory.
func (p *Pool) Dir() string { return p.dir }

// Scan walks the pool directory and digests every package archive.
// Files without the archive extension or without a parsable identity
// are skipped; an empty pool is not an error.
func (p *Pool) Scan() ([]Candidate, error) {
	dirEntries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("reading pool %s: %w", p.dir, err)
	}

	var candidates []Candidate
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), Extension) {
			continue
		}
		identity := strings.TrimSuffix(dirEntry.Name(), Extension)
		stem, version, _, err := pkgver.SplitIdentity(identity)
		if err != nil {
			continue
		}
		if _, err := pkgver.Parse(version); err != nil {
			continue
		}

		info, err := dirEntry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stating %s: %w", dirEntry.Name(), err)
		}

		path := filepath.Join(p.dir, dirEntry.Name())
		digest, err := bundle.DigestFile(path)
		if err != nil {
			return nil, fmt.Errorf("digesting %s: %w", path, err)
		}

		candidates = append(candidates, Candidate{
			Path:     path,
			Identity: identity,
			Stem:     stem,
			Version:  version,
			Size:     info.Size(),
			ModTime:  info.ModTime().Unix(),
			Digest:   digest.String(),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Identity < candidates[j].Identity
	})
	return candidates, nil
}

// List returns the cached (or freshly scanned) candidates for a stem,
// every version present.
func (p *Pool) List(stem string) ([]Candidate, error) {
	all, err := p.load()
	if err != nil {
		return nil, err
	}
	var matches []Candidate
	for _, candidate := range all {
		if candidate.Stem == stem {
			matches = append(matches, candidate)
		}
	}
	return matches, nil
}

// FindLatest returns the highest-version archive for stem. All of the
// stem's versions must parse under the same grammar; a pool mixing
// forms for one stem is an error, never a guess.
func (p *Pool) FindLatest(stem string) (*Candidate, error) {
	matches, err := p.List(stem)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPackage, stem)
	}

	best := matches[0]
	for _, candidate := range matches[1:] {
		newer, err := pkgver.Newer(candidate.Version, best.Version)
		if err != nil {
			return nil, fmt.Errorf("ordering pool versions for %s: %w", stem, err)
		}
		if newer {
			best = candidate
		}
	}
	return &best, nil
}

// load returns the candidate set, using the index cache when its
// recorded file fingerprints (name, size, mtime) still match the
// directory. After a scan the cache is rewritten; a cache write
// failure is swallowed because the scan results are already in hand.
func (p *Pool) load() ([]Candidate, error) {
	if cached, err := readIndex(p.indexPath); err == nil && !p.stale(cached.Candidates) {
		return cached.Candidates, nil
	}

	candidates, err := p.Scan()
	if err != nil {
		return nil, err
	}
	_ = writeIndex(p.indexPath, &index{
		ScanTime:   time.Now().Unix(),
		Candidates: candidates,
	})
	return candidates, nil
}

// stale reports whether the pool's archive files no longer match the
// cached candidates. Any readdir failure counts as stale; the scan
// will surface the real error.
func (p *Pool) stale(cached []Candidate) bool {
	dirEntries, err := os.ReadDir(p.dir)
	if err != nil {
		return true
	}

	current := make(map[string]fs.FileInfo)
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), Extension) {
			continue
		}
		// Mirror Scan's candidate rules so files Scan would skip do
		// not read as perpetual staleness.
		identity := strings.TrimSuffix(dirEntry.Name(), Extension)
		if _, version, _, err := pkgver.SplitIdentity(identity); err != nil {
			continue
		} else if _, err := pkgver.Parse(version); err != nil {
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			return true
		}
		current[dirEntry.Name()] = info
	}

	if len(current) != len(cached) {
		return true
	}
	for _, candidate := range cached {
		info, ok := current[filepath.Base(candidate.Path)]
		if !ok || info.Size() != candidate.Size || info.ModTime().Unix() != candidate.ModTime {
			return true
		}
	}
	return false
}
