// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package pkgmgr

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/lippard661/distribute/lib/bundle"
	"github.com/lippard661/distribute/lib/manifest"
	"github.com/lippard661/distribute/lib/registry"
	"github.com/lippard661/distribute/lib/testutil"
)

// pkg describes a test package to build into an archive.
type pkg struct {
	identity string
	prefix   string
	dirs     []string
	files    map[string]string
	// samples maps a packed file path to its sample destination.
	samples map[string]string
}

func checksum(data string) string {
	sum := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// buildPackage writes a package archive for p into dir and returns its
// path.
func buildPackage(t *testing.T, dir string, p pkg) string {
	t.Helper()

	m := &manifest.Manifest{
		Comments: []string{"test package " + p.identity},
		Name:     p.identity,
		Arch:     manifest.WildcardArch,
		Prefix:   p.prefix,
	}
	for _, d := range p.dirs {
		m.Entries = append(m.Entries, manifest.Entry{
			Kind: manifest.EntryDir, Path: d, Size: -1, Timestamp: -1,
		})
	}
	// Sorted file order keeps archives deterministic across runs.
	var names []string
	for name := range p.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data := p.files[name]
		m.Entries = append(m.Entries, manifest.Entry{
			Kind:       manifest.EntryFile,
			Path:       name,
			SHA:        checksum(data),
			Size:       int64(len(data)),
			Timestamp:  1700000000,
			SamplePath: p.samples[name],
		})
	}

	archivePath := filepath.Join(dir, p.identity+".tgz")
	builder, err := bundle.NewBuilder(archivePath)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	modTime := time.Unix(1700000000, 0)
	if err := builder.AddBytes(manifest.FileName, m.Encode(), 0644, modTime); err != nil {
		t.Fatalf("AddBytes: %v", err)
	}
	if err := builder.AddBytes(manifest.DescriptionName, []byte(p.identity+" test package\n"), 0644, modTime); err != nil {
		t.Fatalf("AddBytes: %v", err)
	}
	for _, name := range names {
		if err := builder.AddBytes(name, []byte(p.files[name]), 0644, modTime); err != nil {
			t.Fatalf("AddBytes %s: %v", name, err)
		}
	}
	if _, err := builder.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return archivePath
}

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	prefix := t.TempDir()
	return &Manager{
		Registry: registry.Open(t.TempDir()),
		Prefix:   prefix,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, prefix
}

func TestInstallPreExtractRunsBeforeAnyChange(t *testing.T) {
	mgr, prefix := newManager(t)
	archive := buildPackage(t, t.TempDir(), pkg{
		identity: "rsync-3.3.0",
		prefix:   prefix,
		dirs:     []string{"bin"},
		files:    map[string]string{"bin/rsync": "#!/bin/sh\n"},
	})

	var checked []string
	mgr.PreExtract = func(archivePath string) error {
		checked = append(checked, archivePath)
		return errors.New("signature no longer valid")
	}

	if _, err := mgr.Install(context.Background(), archive); err == nil {
		t.Fatal("Install proceeded past a failing pre-extraction check")
	}
	if len(checked) != 1 || checked[0] != archive {
		t.Errorf("pre-extraction check calls = %v, want [%s]", checked, archive)
	}
	// The aborted install touched nothing.
	testutil.AssertNotExist(t, filepath.Join(prefix, "bin"))
	if _, err := mgr.Registry.Lookup("rsync"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Lookup after aborted install: %v", err)
	}

	// A passing check lets the install through.
	mgr.PreExtract = func(string) error { return nil }
	outcome, err := mgr.Install(context.Background(), archive)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if outcome.Kind != OutcomeInstalled {
		t.Errorf("outcome = %v", outcome)
	}
}

func TestInstallFresh(t *testing.T) {
	mgr, prefix := newManager(t)
	archive := buildPackage(t, t.TempDir(), pkg{
		identity: "rsync-3.3.0",
		prefix:   prefix,
		dirs:     []string{"bin"},
		files:    map[string]string{"bin/rsync": "#!/bin/sh\n"},
	})

	outcome, err := mgr.Install(context.Background(), archive)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if outcome.Kind != OutcomeInstalled {
		t.Errorf("Kind = %v, want OutcomeInstalled", outcome.Kind)
	}
	if !outcome.Changed() {
		t.Error("Changed() = false for a fresh install")
	}
	testutil.AssertContent(t, filepath.Join(prefix, "bin/rsync"), "#!/bin/sh\n")

	entry, err := mgr.Registry.Lookup("rsync")
	if err != nil {
		t.Fatalf("Lookup after install: %v", err)
	}
	if entry.Identity != "rsync-3.3.0" {
		t.Errorf("registered identity = %q", entry.Identity)
	}
	if !strings.Contains(string(entry.Contents), "@name rsync-3.3.0") {
		t.Errorf("registered packing list missing @name:\n%s", entry.Contents)
	}
}

func TestInstallSameVersionIsNoOp(t *testing.T) {
	mgr, prefix := newManager(t)
	archive := buildPackage(t, t.TempDir(), pkg{
		identity: "rsync-3.3.0",
		prefix:   prefix,
		files:    map[string]string{"bin/rsync": "v1\n"},
	})

	if _, err := mgr.Install(context.Background(), archive); err != nil {
		t.Fatalf("first Install: %v", err)
	}
	outcome, err := mgr.Install(context.Background(), archive)
	if err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if outcome.Kind != OutcomeAlreadyInstalled {
		t.Errorf("Kind = %v, want OutcomeAlreadyInstalled", outcome.Kind)
	}
	if outcome.Changed() {
		t.Error("Changed() = true for an already-installed package")
	}
}

func TestInstallRefusesDowngrade(t *testing.T) {
	mgr, prefix := newManager(t)
	poolDir := t.TempDir()
	newer := buildPackage(t, poolDir, pkg{
		identity: "rsync-3.3.0",
		prefix:   prefix,
		files:    map[string]string{"bin/rsync": "v2\n"},
	})
	older := buildPackage(t, poolDir, pkg{
		identity: "rsync-3.2.7",
		prefix:   prefix,
		files:    map[string]string{"bin/rsync": "v1\n"},
	})

	if _, err := mgr.Install(context.Background(), newer); err != nil {
		t.Fatalf("Install newer: %v", err)
	}
	outcome, err := mgr.Install(context.Background(), older)
	if err != nil {
		t.Fatalf("Install older: %v", err)
	}
	if outcome.Kind != OutcomeNewerInstalled {
		t.Errorf("Kind = %v, want OutcomeNewerInstalled", outcome.Kind)
	}
	// The newer payload is untouched.
	testutil.AssertContent(t, filepath.Join(prefix, "bin/rsync"), "v2\n")
}

func TestUpgradeRemovesDroppedFiles(t *testing.T) {
	mgr, prefix := newManager(t)
	poolDir := t.TempDir()
	v1 := buildPackage(t, poolDir, pkg{
		identity: "tool-1.0",
		prefix:   prefix,
		files: map[string]string{
			"bin/tool":   "v1\n",
			"bin/helper": "dropped in v2\n",
		},
	})
	v2 := buildPackage(t, poolDir, pkg{
		identity: "tool-2.0",
		prefix:   prefix,
		files:    map[string]string{"bin/tool": "v2\n"},
	})

	if _, err := mgr.Install(context.Background(), v1); err != nil {
		t.Fatalf("Install v1: %v", err)
	}
	outcome, err := mgr.Install(context.Background(), v2)
	if err != nil {
		t.Fatalf("Install v2: %v", err)
	}
	if outcome.Kind != OutcomeUpgraded {
		t.Errorf("Kind = %v, want OutcomeUpgraded", outcome.Kind)
	}
	if outcome.Previous != "tool-1.0" {
		t.Errorf("Previous = %q", outcome.Previous)
	}
	testutil.AssertContent(t, filepath.Join(prefix, "bin/tool"), "v2\n")
	testutil.AssertNotExist(t, filepath.Join(prefix, "bin/helper"))

	entry, err := mgr.Registry.Lookup("tool")
	if err != nil {
		t.Fatalf("Lookup after upgrade: %v", err)
	}
	if entry.Identity != "tool-2.0" {
		t.Errorf("registered identity = %q", entry.Identity)
	}
}

func TestUpgradePreservesEditedSample(t *testing.T) {
	mgr, prefix := newManager(t)
	sampleDest := filepath.Join(t.TempDir(), "etc", "tool.conf")
	poolDir := t.TempDir()

	v1 := buildPackage(t, poolDir, pkg{
		identity: "tool-1.0",
		prefix:   prefix,
		files:    map[string]string{"share/tool.conf.sample": "stock v1\n"},
		samples:  map[string]string{"share/tool.conf.sample": sampleDest},
	})
	v2 := buildPackage(t, poolDir, pkg{
		identity: "tool-2.0",
		prefix:   prefix,
		files:    map[string]string{"share/tool.conf.sample": "stock v2\n"},
		samples:  map[string]string{"share/tool.conf.sample": sampleDest},
	})

	if _, err := mgr.Install(context.Background(), v1); err != nil {
		t.Fatalf("Install v1: %v", err)
	}
	testutil.AssertContent(t, sampleDest, "stock v1\n")

	// The administrator edits the live configuration.
	if err := os.WriteFile(sampleDest, []byte("local config\n"), 0644); err != nil {
		t.Fatal(err)
	}

	outcome, err := mgr.Install(context.Background(), v2)
	if err != nil {
		t.Fatalf("Install v2: %v", err)
	}
	if len(outcome.SamplesPreserved) != 1 || outcome.SamplesPreserved[0] != sampleDest {
		t.Errorf("SamplesPreserved = %v", outcome.SamplesPreserved)
	}
	testutil.AssertContent(t, sampleDest, "local config\n")
}

func TestUpgradeRefreshesUneditedSample(t *testing.T) {
	mgr, prefix := newManager(t)
	sampleDest := filepath.Join(t.TempDir(), "etc", "tool.conf")
	poolDir := t.TempDir()

	v1 := buildPackage(t, poolDir, pkg{
		identity: "tool-1.0",
		prefix:   prefix,
		files:    map[string]string{"share/tool.conf.sample": "stock v1\n"},
		samples:  map[string]string{"share/tool.conf.sample": sampleDest},
	})
	v2 := buildPackage(t, poolDir, pkg{
		identity: "tool-2.0",
		prefix:   prefix,
		files:    map[string]string{"share/tool.conf.sample": "stock v2\n"},
		samples:  map[string]string{"share/tool.conf.sample": sampleDest},
	})

	if _, err := mgr.Install(context.Background(), v1); err != nil {
		t.Fatalf("Install v1: %v", err)
	}
	outcome, err := mgr.Install(context.Background(), v2)
	if err != nil {
		t.Fatalf("Install v2: %v", err)
	}
	if len(outcome.SamplesPreserved) != 0 {
		t.Errorf("SamplesPreserved = %v for an unedited sample", outcome.SamplesPreserved)
	}
	// Unedited: the old stock copy was removed, the new one installed.
	testutil.AssertContent(t, sampleDest, "stock v2\n")
}

func TestDeleteRemovesPackage(t *testing.T) {
	mgr, prefix := newManager(t)
	archive := buildPackage(t, t.TempDir(), pkg{
		identity: "tool-1.0",
		prefix:   prefix,
		dirs:     []string{"libexec", "libexec/tool"},
		files:    map[string]string{"libexec/tool/run": "payload\n"},
	})

	if _, err := mgr.Install(context.Background(), archive); err != nil {
		t.Fatalf("Install: %v", err)
	}
	identity, preserved, err := mgr.Delete(context.Background(), "tool")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if identity != "tool-1.0" {
		t.Errorf("deleted identity = %q", identity)
	}
	if len(preserved) != 0 {
		t.Errorf("preserved = %v", preserved)
	}
	testutil.AssertNotExist(t, filepath.Join(prefix, "libexec/tool/run"))
	testutil.AssertNotExist(t, filepath.Join(prefix, "libexec/tool"))
	testutil.AssertNotExist(t, filepath.Join(prefix, "libexec"))

	if _, err := mgr.Registry.Lookup("tool"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Lookup after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteKeepsForeignFilesInSharedDir(t *testing.T) {
	mgr, prefix := newManager(t)
	archive := buildPackage(t, t.TempDir(), pkg{
		identity: "tool-1.0",
		prefix:   prefix,
		dirs:     []string{"bin"},
		files:    map[string]string{"bin/tool": "payload\n"},
	})

	if _, err := mgr.Install(context.Background(), archive); err != nil {
		t.Fatalf("Install: %v", err)
	}
	foreign := filepath.Join(prefix, "bin", "other")
	if err := os.WriteFile(foreign, []byte("not ours\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := mgr.Delete(context.Background(), "tool"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// bin was not empty, so it survives along with the foreign file.
	testutil.AssertContent(t, foreign, "not ours\n")
}

func TestDeleteNotInstalled(t *testing.T) {
	mgr, _ := newManager(t)
	if _, _, err := mgr.Delete(context.Background(), "ghost"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Delete = %v, want ErrNotFound", err)
	}
}

func TestInstallOverLegacyRefused(t *testing.T) {
	mgr, prefix := newManager(t)
	// A pre-registry installation leaves only its doc directory behind.
	if err := os.MkdirAll(filepath.Join(prefix, "share", "doc", "tool-0.9"), 0755); err != nil {
		t.Fatal(err)
	}
	archive := buildPackage(t, t.TempDir(), pkg{
		identity: "tool-1.0",
		prefix:   prefix,
		files:    map[string]string{"bin/tool": "v1\n"},
	})

	_, err := mgr.Install(context.Background(), archive)
	if err == nil {
		t.Fatal("install over a legacy installation succeeded")
	}
	if !strings.Contains(err.Error(), "remove it manually") {
		t.Errorf("error = %v", err)
	}
}

func TestInstallSameVersionAsLegacyIsNoOp(t *testing.T) {
	mgr, prefix := newManager(t)
	if err := os.MkdirAll(filepath.Join(prefix, "share", "doc", "tool-1.0"), 0755); err != nil {
		t.Fatal(err)
	}
	archive := buildPackage(t, t.TempDir(), pkg{
		identity: "tool-1.0",
		prefix:   prefix,
		files:    map[string]string{"bin/tool": "v1\n"},
	})

	outcome, err := mgr.Install(context.Background(), archive)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if outcome.Kind != OutcomeAlreadyInstalled {
		t.Errorf("Kind = %v, want OutcomeAlreadyInstalled", outcome.Kind)
	}
	testutil.AssertNotExist(t, filepath.Join(prefix, "bin/tool"))
}

func TestInstallRejectsWrongName(t *testing.T) {
	mgr, prefix := newManager(t)
	archive := buildPackage(t, t.TempDir(), pkg{
		identity: "tool-1.0",
		prefix:   prefix,
		files:    map[string]string{"bin/tool": "v1\n"},
	})
	// Rename the archive so its name disagrees with @name inside.
	renamed := filepath.Join(filepath.Dir(archive), "other-1.0.tgz")
	if err := os.Rename(archive, renamed); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Install(context.Background(), renamed); err == nil {
		t.Fatal("mismatched @name accepted")
	}
	testutil.AssertNotExist(t, filepath.Join(prefix, "bin/tool"))
}

func TestInstallRejectsWrongPrefix(t *testing.T) {
	mgr, _ := newManager(t)
	archive := buildPackage(t, t.TempDir(), pkg{
		identity: "tool-1.0",
		prefix:   "/somewhere/else",
		files:    map[string]string{"bin/tool": "v1\n"},
	})
	if _, err := mgr.Install(context.Background(), archive); err == nil {
		t.Fatal("mismatched @cwd accepted")
	}
}
