// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package pkgmgr is the minimal package manager: it installs,
// upgrades, and deletes package archives on hosts that do not carry a
// real package tool, mimicking the install/upgrade/delete semantics
// of the OS package manager the archives were built for.
//
// Every install request runs the same state machine: validate the
// packing list, check the registry, decide New / Upgrade /
// AlreadySame / AlreadyNewer, extract, register. Already-same and
// already-newer are clean no-ops — a downgrade never happens
// implicitly. Installed state comes only from the registry, never
// from scanning payload files.
//
// Concurrent runs against one host are not supported; single-writer
// operation is an operating precondition, not enforced by a lock
// file.
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lippard661/distribute/lib/bundle"
	"github.com/lippard661/distribute/lib/manifest"
	"github.com/lippard661/distribute/lib/pkgver"
	"github.com/lippard661/distribute/lib/registry"
)

// OutcomeKind says what an install request did.
type OutcomeKind int

const (
	// OutcomeInstalled is a fresh install.
	OutcomeInstalled OutcomeKind = iota + 1

	// OutcomeUpgraded replaced an older installed version.
	OutcomeUpgraded

	// OutcomeAlreadyInstalled means the requested version was already
	// installed; nothing was done.
	OutcomeAlreadyInstalled

	// OutcomeNewerInstalled means a newer version is installed; the
	// implied downgrade was refused and nothing was done.
	OutcomeNewerInstalled
)

// Outcome reports an install request's result.
type Outcome struct {
	Kind OutcomeKind

	// Identity is the requested package identity.
	Identity string

	// Previous is the previously installed identity for
	// OutcomeUpgraded, OutcomeAlreadyInstalled, and
	// OutcomeNewerInstalled.
	Previous string

	// Report details what extraction touched, for installs and
	// upgrades.
	Report *bundle.Report

	// SamplesPreserved lists edited sample files the upgrade's removal
	// phase kept.
	SamplesPreserved []string
}

// String renders the outcome for operator output.
func (o *Outcome) String() string {
	switch o.Kind {
	case OutcomeInstalled:
		return fmt.Sprintf("installed %s", o.Identity)
	case OutcomeUpgraded:
		return fmt.Sprintf("upgraded %s to %s", o.Previous, o.Identity)
	case OutcomeAlreadyInstalled:
		return fmt.Sprintf("%s is already installed", o.Previous)
	case OutcomeNewerInstalled:
		return fmt.Sprintf("%s is newer than %s, not downgrading", o.Previous, o.Identity)
	default:
		return fmt.Sprintf("unknown outcome %d", o.Kind)
	}
}

// Changed reports whether the outcome modified the host.
func (o *Outcome) Changed() bool {
	return o.Kind == OutcomeInstalled || o.Kind == OutcomeUpgraded
}

// Manager installs and deletes packages.
type Manager struct {
	// Registry is the installed-package database.
	Registry *registry.Registry

	// Prefix is the extraction prefix the packing lists must declare.
	Prefix string

	// OverlayPrefix selects platform-overlay sample sources; see
	// [manifest.Manifest.SampleSource].
	OverlayPrefix string

	// Logger receives progress and the non-fatal registration
	// failure warning. Required.
	Logger *slog.Logger

	// PreExtract, when set, runs after the packing list is validated
	// and immediately before extraction, with the archive path. An
	// error aborts the install before any filesystem change. The
	// install orchestrator uses it to re-verify the archive signature
	// so the bytes extracted are the bytes verified.
	PreExtract func(archivePath string) error
}

// Identity derives the package identity from an archive path:
// the base name without the pool extension.
func Identity(archivePath string) string {
	return strings.TrimSuffix(filepath.Base(archivePath), ".tgz")
}

// Install runs the install state machine for a package archive.
func (m *Manager) Install(ctx context.Context, archivePath string) (*Outcome, error) {
	identity := Identity(archivePath)
	stem, version, _, err := pkgver.SplitIdentity(identity)
	if err != nil {
		return nil, err
	}
	requested, err := pkgver.Parse(version)
	if err != nil {
		return nil, err
	}

	meta, err := bundle.ReadManifest(archivePath)
	if err != nil {
		return nil, err
	}
	if err := meta.Manifest.Validate(identity, m.Prefix); err != nil {
		return nil, fmt.Errorf("%s: %w", archivePath, err)
	}

	outcome := &Outcome{Identity: identity}

	installed, err := m.lookupInstalled(stem)
	if err != nil {
		return nil, err
	}
	if installed != nil {
		outcome.Previous = installed.Identity
		decided, err := m.decide(outcome, installed, requested)
		if err != nil {
			return nil, err
		}
		if decided != nil {
			return decided, nil
		}

		// Upgrade: the old version is removed completely before the
		// new extraction begins, never side by side.
		preserved, err := m.remove(ctx, installed)
		if err != nil {
			return nil, fmt.Errorf("removing %s before upgrade: %w", installed.Identity, err)
		}
		outcome.Kind = OutcomeUpgraded
		outcome.SamplesPreserved = preserved
	} else {
		outcome.Kind = OutcomeInstalled
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.PreExtract != nil {
		if err := m.PreExtract(archivePath); err != nil {
			return nil, fmt.Errorf("%s: %w", archivePath, err)
		}
	}

	report, err := bundle.ExtractSelective(archivePath, meta.Manifest, m.Prefix, m.OverlayPrefix)
	if err != nil {
		return nil, err
	}
	outcome.Report = report

	// Files on disk take priority over bookkeeping: a registry write
	// failure after a successful extraction is logged, not fatal.
	if err := m.Registry.Register(identity, meta.RawContents, meta.Description); err != nil {
		m.Logger.Warn("package installed but registration failed",
			"package", identity, "error", err)
	}

	return outcome, nil
}

// decide resolves the installed-state branch: nil outcome means
// proceed with an upgrade.
func (m *Manager) decide(outcome *Outcome, installed *registry.Entry, requested pkgver.Version) (*Outcome, error) {
	_, installedVersion, _, err := pkgver.SplitIdentity(installed.Identity)
	if err != nil {
		return nil, fmt.Errorf("registry entry %s: %w", installed.Identity, err)
	}
	current, err := pkgver.Parse(installedVersion)
	if err != nil {
		return nil, fmt.Errorf("registry entry %s: %w", installed.Identity, err)
	}

	order, err := pkgver.Compare(requested, current)
	if err != nil {
		return nil, fmt.Errorf("comparing %s against installed %s: %w",
			outcome.Identity, installed.Identity, err)
	}

	switch {
	case order == 0:
		outcome.Kind = OutcomeAlreadyInstalled
		return outcome, nil
	case order < 0:
		outcome.Kind = OutcomeNewerInstalled
		return outcome, nil
	}

	if installed.Legacy {
		// A legacy installation has no packing list, so its files
		// cannot be removed safely. Upgrading over it is unsafe.
		return nil, fmt.Errorf("%s was installed before the registry existed; remove it manually before installing %s",
			installed.Identity, outcome.Identity)
	}
	return nil, nil
}

// lookupInstalled consults the registry, falling back to the legacy
// doc-directory probe. A miss returns (nil, nil).
func (m *Manager) lookupInstalled(stem string) (*registry.Entry, error) {
	entry, err := m.Registry.Lookup(stem)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}

	entry, err = m.Registry.LookupLegacy(m.Prefix, stem)
	if err == nil {
		m.Logger.Info("found pre-registry installation", "package", entry.Identity)
		return entry, nil
	}
	if !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

// Delete removes the installed package matching stem: payload files,
// then empty directories in reverse packing-list order, then the
// registry entry. Edited sample files survive.
func (m *Manager) Delete(ctx context.Context, stem string) (identity string, preserved []string, err error) {
	entry, err := m.Registry.Lookup(stem)
	if err != nil {
		return "", nil, err
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	preserved, err = m.remove(ctx, entry)
	if err != nil {
		return "", nil, err
	}
	return entry.Identity, preserved, nil
}

// remove deletes one installed package per its recorded packing list
// and deregisters it. Returns the sample files preserved because the
// administrator edited them.
func (m *Manager) remove(ctx context.Context, entry *registry.Entry) (preserved []string, err error) {
	installed, err := entry.Manifest()
	if err != nil {
		return nil, fmt.Errorf("packing list of %s: %w", entry.Identity, err)
	}

	// Payload files first, in packing-list order. Sample destinations
	// are deleted only when still byte-identical to what the package
	// installed: a changed sample is local configuration.
	for _, fileEntry := range installed.Files() {
		if err := ctx.Err(); err != nil {
			return preserved, err
		}

		target := filepath.Join(m.Prefix, filepath.FromSlash(fileEntry.Path))
		if err := removeIfPresent(target); err != nil {
			return preserved, err
		}

		if fileEntry.SamplePath == "" {
			continue
		}
		keep, err := sampleEdited(&fileEntry)
		if err != nil {
			return preserved, err
		}
		if keep {
			preserved = append(preserved, fileEntry.SamplePath)
			m.Logger.Info("keeping edited sample file", "path", fileEntry.SamplePath)
			continue
		}
		if err := removeIfPresent(fileEntry.SamplePath); err != nil {
			return preserved, err
		}
	}

	// Directories in reverse order so nested ones empty out before
	// their parents. Non-empty directories stay: they hold files this
	// package does not own.
	entries := installed.Entries
	for i := len(entries) - 1; i >= 0; i-- {
		var dir string
		switch entries[i].Kind {
		case manifest.EntryDir:
			dir = filepath.Join(m.Prefix, filepath.FromSlash(entries[i].Path))
		case manifest.EntrySampleDir:
			dir = entries[i].Path
		default:
			continue
		}
		if err := os.Remove(dir); err != nil &&
			!errors.Is(err, fs.ErrNotExist) && !isDirNotEmpty(err) {
			return preserved, fmt.Errorf("removing directory %s: %w", dir, err)
		}
	}

	if err := m.Registry.Deregister(entry.Identity); err != nil {
		return preserved, err
	}
	return preserved, nil
}

// sampleEdited reports whether the sample destination differs from
// the content recorded at install time. A missing destination is not
// edited; a checksum-less entry counts as edited, erring toward
// keeping the file.
func sampleEdited(fileEntry *manifest.Entry) (bool, error) {
	if _, err := os.Lstat(fileEntry.SamplePath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("checking sample %s: %w", fileEntry.SamplePath, err)
	}

	unchanged, err := fileEntry.Unchanged(fileEntry.SamplePath)
	if err != nil {
		return false, fmt.Errorf("checking sample %s: %w", fileEntry.SamplePath, err)
	}
	return !unchanged, nil
}

func removeIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// isDirNotEmpty matches the ENOTEMPTY a non-empty directory removal
// raises.
func isDirNotEmpty(err error) bool {
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		return false
	}
	return strings.Contains(pathErr.Err.Error(), "not empty")
}
