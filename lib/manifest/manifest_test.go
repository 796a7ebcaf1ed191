// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const samplePackingList = `@comment dist package for mail config
@name mailcfg-1.2.3
@arch *
@cwd /
etc/mail/
etc/mail/aliases
@sha 2jmj7l5rSw0yVb/vlWAYkK/YBwk=
@size 120
@ts 1767225600
etc/mail/smtpd.conf
@sha 47DEQpj8HBSa+/TImW+5JCeuQeR=
@size 64
@ts 1767225600
@sample /etc/mail/smtpd.conf.local
@sample /var/spool/smtpd/
`

func parseString(t *testing.T, text string) *Manifest {
	t.Helper()
	m, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return m
}

func TestParse(t *testing.T) {
	m := parseString(t, samplePackingList)

	if m.Name != "mailcfg-1.2.3" {
		t.Errorf("Name = %q", m.Name)
	}
	if m.Arch != "*" {
		t.Errorf("Arch = %q", m.Arch)
	}
	if m.Prefix != "/" {
		t.Errorf("Prefix = %q", m.Prefix)
	}
	if len(m.Comments) != 1 || m.Comments[0] != "dist package for mail config" {
		t.Errorf("Comments = %q", m.Comments)
	}

	if len(m.Entries) != 4 {
		t.Fatalf("Entries = %d, want 4", len(m.Entries))
	}

	if m.Entries[0].Kind != EntryDir || m.Entries[0].Path != "etc/mail" {
		t.Errorf("entry 0 = %+v, want dir etc/mail", m.Entries[0])
	}

	aliases := m.Entries[1]
	if aliases.Kind != EntryFile || aliases.Path != "etc/mail/aliases" {
		t.Fatalf("entry 1 = %+v", aliases)
	}
	if aliases.SHA != "2jmj7l5rSw0yVb/vlWAYkK/YBwk=" || aliases.Size != 120 || aliases.Timestamp != 1767225600 {
		t.Errorf("aliases annotations = %+v", aliases)
	}
	if aliases.SamplePath != "" {
		t.Errorf("aliases SamplePath = %q, want empty", aliases.SamplePath)
	}

	smtpd := m.Entries[2]
	if smtpd.SamplePath != "/etc/mail/smtpd.conf.local" {
		t.Errorf("smtpd SamplePath = %q", smtpd.SamplePath)
	}

	if m.Entries[3].Kind != EntrySampleDir || m.Entries[3].Path != "/var/spool/smtpd" {
		t.Errorf("entry 3 = %+v, want sample dir /var/spool/smtpd", m.Entries[3])
	}
}

func TestParse_UnknownDirectivesSkipped(t *testing.T) {
	m := parseString(t, "@comment c\n@name n-1.0\n@arch *\n@cwd /\n@owner root\nbin/x\n@mode 755\n")
	if len(m.Skipped) != 2 {
		t.Fatalf("Skipped = %q, want 2 entries", m.Skipped)
	}
	if m.Skipped[0] != "@owner root" || m.Skipped[1] != "@mode 755" {
		t.Errorf("Skipped = %q", m.Skipped)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"orphan sha":       "@comment c\n@sha abc=\n",
		"orphan size":      "@size 12\n",
		"orphan ts":        "@ts 12\n",
		"orphan sample":    "@comment c\n@sample /etc/x\n",
		"sha after dir":    "@comment c\ndir/\n@sha abc=\n",
		"dup name":         "@name a-1.0\n@name b-1.0\n",
		"dup arch":         "@arch *\n@arch *\n",
		"dup cwd":          "@cwd /\n@cwd /usr/local\n",
		"empty name":       "@name\n",
		"bad size":         "file\n@size many\n",
		"negative size":    "file\n@size -1\n",
		"bad ts":           "file\n@ts someday\n",
		"dup sample":       "file\n@sample /etc/a\n@sample /etc/b\n",
		"empty sample":     "file\n@sample\n",
	}
	for name, text := range cases {
		if _, err := Parse(strings.NewReader(text)); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestValidate(t *testing.T) {
	m := parseString(t, samplePackingList)

	if err := m.Validate("mailcfg-1.2.3", "/"); err != nil {
		t.Errorf("Validate: %v", err)
	}

	// Wildcards for caller-side checks.
	if err := m.Validate("", ""); err != nil {
		t.Errorf("Validate with no expectations: %v", err)
	}

	if err := m.Validate("othercfg-1.0", "/"); err == nil {
		t.Error("Validate accepted mismatched @name")
	}
	if err := m.Validate("mailcfg-1.2.3", "/usr/local"); err == nil {
		t.Error("Validate accepted mismatched @cwd")
	}
}

func TestValidate_MissingMarkers(t *testing.T) {
	cases := map[string]string{
		"no comment": "@name a-1.0\n@arch *\n@cwd /\n",
		"no name":    "@comment c\n@arch *\n@cwd /\n",
		"no arch":    "@comment c\n@name a-1.0\n@cwd /\n",
		"bad arch":   "@comment c\n@name a-1.0\n@arch amd64\n@cwd /\n",
		"no cwd":     "@comment c\n@name a-1.0\n@arch *\n",
	}
	for name, text := range cases {
		m := parseString(t, text)
		if err := m.Validate("", ""); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	m := parseString(t, samplePackingList)
	encoded := m.Encode()
	if string(encoded) != samplePackingList {
		t.Errorf("Encode round trip differs:\n%s\nwant:\n%s", encoded, samplePackingList)
	}
}

func TestFilesAndDirs(t *testing.T) {
	m := parseString(t, samplePackingList)

	files := m.Files()
	if len(files) != 2 || files[0].Path != "etc/mail/aliases" || files[1].Path != "etc/mail/smtpd.conf" {
		t.Errorf("Files() = %+v", files)
	}
	dirs := m.Dirs()
	if len(dirs) != 1 || dirs[0].Path != "etc/mail" {
		t.Errorf("Dirs() = %+v", dirs)
	}

	if !m.HasFile("etc/mail/aliases") {
		t.Error("HasFile(etc/mail/aliases) = false")
	}
	if m.HasFile("etc/mail") {
		t.Error("HasFile matched a directory entry")
	}
}

func TestFileChecksumAndUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	contents := []byte("setting = value\n")
	if err := os.WriteFile(path, contents, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entry, err := NewFileEntry("etc/config", path)
	if err != nil {
		t.Fatalf("NewFileEntry: %v", err)
	}
	if entry.Size != int64(len(contents)) {
		t.Errorf("Size = %d, want %d", entry.Size, len(contents))
	}
	if entry.SHA == "" || entry.Timestamp <= 0 {
		t.Errorf("entry = %+v, want SHA and timestamp set", entry)
	}

	unchanged, err := entry.Unchanged(path)
	if err != nil {
		t.Fatalf("Unchanged: %v", err)
	}
	if !unchanged {
		t.Error("Unchanged = false for untouched file")
	}

	// An edit must flip the comparison even when the size is padded
	// back to the original.
	if err := os.WriteFile(path, []byte("setting = edited\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	unchanged, err = entry.Unchanged(path)
	if err != nil {
		t.Fatalf("Unchanged: %v", err)
	}
	if unchanged {
		t.Error("Unchanged = true for edited file")
	}

	// No recorded checksum means "treat as changed, keep the file".
	bare := Entry{Kind: EntryFile, Path: "etc/config", Size: -1, Timestamp: -1}
	unchanged, err = bare.Unchanged(path)
	if err != nil {
		t.Fatalf("Unchanged: %v", err)
	}
	if unchanged {
		t.Error("Unchanged = true without recorded checksum")
	}
}

func TestSampleSource(t *testing.T) {
	m := parseString(t, "@comment c\n@name a-1.0\n@arch *\n@cwd /usr/local\n"+
		"share/examples/foo/foo.conf\n@sample /etc/foo.conf\n"+
		"share/examples/foo/OpenBSD.foo.conf\n"+
		"share/examples/foo/bar.conf\n@sample /etc/bar.conf\n")

	entries := m.Files()
	fooEntry := entries[0]
	barEntry := entries[2]

	// Overlay sibling present: the platform file wins.
	if got := m.SampleSource(fooEntry, "OpenBSD"); got != "share/examples/foo/OpenBSD.foo.conf" {
		t.Errorf("SampleSource with overlay = %q", got)
	}
	// No overlay sibling: stock file.
	if got := m.SampleSource(barEntry, "OpenBSD"); got != "share/examples/foo/bar.conf" {
		t.Errorf("SampleSource without overlay sibling = %q", got)
	}
	// Overlay disabled.
	if got := m.SampleSource(fooEntry, ""); got != "share/examples/foo/foo.conf" {
		t.Errorf("SampleSource with empty prefix = %q", got)
	}
}

func TestEncodeProducesParseableOutput(t *testing.T) {
	m := &Manifest{
		Comments: []string{"dist package for pf rules"},
		Name:     "pf-rules-20250101",
		Arch:     "*",
		Prefix:   "/",
		Entries: []Entry{
			{Kind: EntryDir, Path: "etc/pf", Size: -1, Timestamp: -1},
			{Kind: EntryFile, Path: "etc/pf/pf.conf", SHA: "abc=", Size: 10, Timestamp: 5},
		},
	}

	parsed, err := Parse(bytes.NewReader(m.Encode()))
	if err != nil {
		t.Fatalf("Parse(Encode()): %v", err)
	}
	if parsed.Name != m.Name || len(parsed.Entries) != 2 {
		t.Errorf("round trip = %+v", parsed)
	}
}
