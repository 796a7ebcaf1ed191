// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTree creates files under root from relative path -> contents,
// with any needed parents. Mode 0644 unless the name ends in ".sh"
// (0755), so mode preservation has something to check.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, contents := range files {
		target := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		mode := os.FileMode(0644)
		if filepath.Ext(name) == ".sh" {
			mode = 0755
		}
		if err := os.WriteFile(target, []byte(contents), mode); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
	}
}

func TestBuildExtractRoundTrip(t *testing.T) {
	sourceRoot := t.TempDir()
	files := map[string]string{
		"etc/hosts.allow":        "sshd: 10.0.0.0/24\n",
		"etc/mail/aliases":       "root: operator\n",
		"usr/local/sbin/rotate.sh": "#!/bin/sh\nexit 0\n",
	}
	writeTree(t, sourceRoot, files)
	if err := os.Symlink("hosts.allow", filepath.Join(sourceRoot, "etc", "hosts.deny")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "host1-1700000000-package.tgz")
	names := []string{"etc/hosts.allow", "etc/hosts.deny", "etc/mail/aliases", "usr/local/sbin/rotate.sh"}
	digest, err := Build(archivePath, sourceRoot, names)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if digest == (Digest{}) {
		t.Error("Build returned a zero digest")
	}

	// The recorded digest must match a fresh hash of the file.
	onDisk, err := DigestFile(archivePath)
	if err != nil {
		t.Fatalf("DigestFile: %v", err)
	}
	if onDisk != digest {
		t.Errorf("DigestFile = %s, Build returned %s", onDisk, digest)
	}

	extractRoot := t.TempDir()
	extracted, err := ExtractAll(archivePath, extractRoot)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if len(extracted) != len(names) {
		t.Fatalf("extracted %d members, want %d: %v", len(extracted), len(names), extracted)
	}

	for name, wantContents := range files {
		got, err := os.ReadFile(filepath.Join(extractRoot, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("reading extracted %s: %v", name, err)
			continue
		}
		if !bytes.Equal(got, []byte(wantContents)) {
			t.Errorf("%s round-tripped to %q, want %q", name, got, wantContents)
		}
	}

	info, err := os.Stat(filepath.Join(extractRoot, "usr", "local", "sbin", "rotate.sh"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("rotate.sh mode = %o, want 0755", info.Mode().Perm())
	}

	target, err := os.Readlink(filepath.Join(extractRoot, "etc", "hosts.deny"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "hosts.allow" {
		t.Errorf("symlink target = %q, want hosts.allow", target)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"etc/pf.conf": "block all\n"})
	stamp := time.Unix(1700000000, 0)
	if err := os.Chtimes(filepath.Join(root, "etc", "pf.conf"), stamp, stamp); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	outDir := t.TempDir()
	first, err := Build(filepath.Join(outDir, "a.tgz"), root, []string{"etc/pf.conf"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := Build(filepath.Join(outDir, "b.tgz"), root, []string{"etc/pf.conf"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if first != second {
		t.Errorf("same input produced digests %s and %s", first, second)
	}
}

func TestBuild_MissingFile(t *testing.T) {
	outDir := t.TempDir()
	_, err := Build(filepath.Join(outDir, "x.tgz"), t.TempDir(), []string{"etc/absent"})
	if err == nil {
		t.Fatal("Build with missing file: expected error")
	}
	// The aborted build must not leave the output or temp files behind.
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("aborted build left files: %v", entries)
	}
}

func TestBuilderAddBytes_LeadingSlashStripped(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "x.tgz")
	builder, err := NewBuilder(archivePath)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := builder.AddBytes("/etc/motd", []byte("hello\n"), 0644, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("AddBytes: %v", err)
	}
	if _, err := builder.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	root := t.TempDir()
	names, err := ExtractAll(archivePath, root)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if len(names) != 1 || names[0] != "etc/motd" {
		t.Errorf("names = %v, want [etc/motd]", names)
	}
	if _, err := os.Stat(filepath.Join(root, "etc", "motd")); err != nil {
		t.Errorf("extracted file: %v", err)
	}
}

func TestBuilderAddBytes_UnsafeNames(t *testing.T) {
	builder, err := NewBuilder(filepath.Join(t.TempDir(), "x.tgz"))
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	defer builder.Abort()

	for _, name := range []string{"", ".", "..", "../evil", "a/../../evil"} {
		if err := builder.AddBytes(name, nil, 0644, time.Time{}); !errors.Is(err, ErrUnsafePath) {
			t.Errorf("AddBytes(%q): %v, want ErrUnsafePath", name, err)
		}
	}
}

func TestDigestParseRoundTrip(t *testing.T) {
	var digest Digest
	for i := range digest {
		digest[i] = byte(i)
	}
	parsed, err := ParseDigest(digest.String())
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != digest {
		t.Error("digest did not round-trip through hex")
	}

	if _, err := ParseDigest("zz"); err == nil {
		t.Error("ParseDigest accepted bad hex")
	}
	if _, err := ParseDigest("abcd"); err == nil {
		t.Error("ParseDigest accepted short digest")
	}
}
