// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/lippard661/distribute/lib/manifest"
)

// safeExtractName validates a member or packing-list path for
// extraction. Absolute paths and any ".." step are rejected outright
// rather than cleaned away: an archive that tries to escape has no
// honest reading.
func safeExtractName(name string) (string, error) {
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute member %q", ErrUnsafePath, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return cleaned, nil
}

// archiveReader layers a tar reader over a gzip reader over the
// bundle file.
type archiveReader struct {
	file *os.File
	gzip *gzip.Reader
	tar  *tar.Reader
}

func openArchive(path string) (*archiveReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &archiveReader{
		file: file,
		gzip: gzipReader,
		tar:  tar.NewReader(gzipReader),
	}, nil
}

func (a *archiveReader) Close() error {
	gzipErr := a.gzip.Close()
	fileErr := a.file.Close()
	if gzipErr != nil {
		return gzipErr
	}
	return fileErr
}

// ExtractAll unpacks every archive member under rootDir, preserving
// modes and modification times, and returns the member names in
// archive order for the audit trail. Member names that escape rootDir
// are ErrUnsafePath; members other than files, directories, and
// symlinks are errors.
func ExtractAll(archivePath, rootDir string) ([]string, error) {
	archive, err := openArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	var names []string
	for {
		header, err := archive.tar.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return names, fmt.Errorf("reading %s: %w", archivePath, err)
		}

		name, err := safeExtractName(header.Name)
		if err != nil {
			return names, err
		}
		target := filepath.Join(rootDir, filepath.FromSlash(name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(header.Mode).Perm()|0700); err != nil {
				return names, fmt.Errorf("creating directory %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return names, fmt.Errorf("creating parent of %s: %w", target, err)
			}
			if err := writeMember(archive.tar, target, header); err != nil {
				return names, err
			}

		case tar.TypeSymlink:
			// Replace any existing link; a config bundle owns its paths.
			if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return names, fmt.Errorf("replacing %s: %w", target, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return names, fmt.Errorf("creating parent of %s: %w", target, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return names, fmt.Errorf("creating symlink %s: %w", target, err)
			}

		default:
			return names, fmt.Errorf("%s: member %s has unsupported type %c", archivePath, name, header.Typeflag)
		}

		names = append(names, name)
	}
	return names, nil
}

// writeMember streams one regular-file member to target with the
// header's permission bits and modification time.
func writeMember(r io.Reader, target string, header *tar.Header) error {
	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(header.Mode).Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", target, err)
	}
	if !header.ModTime.IsZero() {
		if err := os.Chtimes(target, header.ModTime, header.ModTime); err != nil {
			return fmt.Errorf("setting times on %s: %w", target, err)
		}
	}
	return nil
}

// PackageMeta is a package archive's metadata entries: the packing
// list both parsed and verbatim (the registry stores the raw bytes
// exactly as installed), and the raw description.
type PackageMeta struct {
	Manifest *manifest.Manifest

	// RawContents is the +CONTENTS entry byte-for-byte.
	RawContents []byte

	// Description is the +DESC entry, nil when the archive has none.
	Description []byte
}

// ReadManifest returns the +CONTENTS packing list and +DESC
// description from a package archive. A missing +CONTENTS is an
// error; a missing +DESC yields nil description bytes.
func ReadManifest(archivePath string) (*PackageMeta, error) {
	archive, err := openArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	meta := &PackageMeta{}
	for meta.RawContents == nil || meta.Description == nil {
		header, err := archive.tar.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", archivePath, err)
		}
		name, err := safeExtractName(header.Name)
		if err != nil {
			continue
		}
		switch name {
		case manifest.FileName:
			meta.RawContents, err = io.ReadAll(archive.tar)
			if err != nil {
				return nil, fmt.Errorf("%s: reading %s: %w", archivePath, manifest.FileName, err)
			}
			meta.Manifest, err = manifest.Parse(bytes.NewReader(meta.RawContents))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", archivePath, err)
			}
		case manifest.DescriptionName:
			meta.Description, err = io.ReadAll(archive.tar)
			if err != nil {
				return nil, fmt.Errorf("%s: reading %s: %w", archivePath, manifest.DescriptionName, err)
			}
		}
	}

	if meta.Manifest == nil {
		return nil, fmt.Errorf("%s has no %s", archivePath, manifest.FileName)
	}
	return meta, nil
}

// Report lists what ExtractSelective touched, in the order it touched
// it.
type Report struct {
	// Dirs are directories created (or confirmed) from the packing
	// list's directory directives.
	Dirs []string

	// Files are payload files written under the prefix.
	Files []string

	// Samples are sample destinations populated because they did not
	// exist yet.
	Samples []string

	// SamplesKept are sample destinations left untouched because a
	// file was already there.
	SamplesKept []string
}

// ExtractSelective installs a package archive under prefix as directed
// by its packing list. The archive's own member list never drives
// extraction: only manifest-listed files are written, manifest
// directory directives are created first, and sample destinations are
// populated only when absent (preferring an overlayPrefix platform
// file, see [manifest.Manifest.SampleSource]).
//
// The archive is checked against the packing list before anything is
// written: a listed file missing from the archive aborts with no
// filesystem changes.
func ExtractSelective(archivePath string, m *manifest.Manifest, prefix, overlayPrefix string) (*Report, error) {
	wanted := make(map[string]string) // entry name -> extraction target
	for _, entry := range m.Files() {
		name, err := safeExtractName(entry.Path)
		if err != nil {
			return nil, err
		}
		wanted[name] = filepath.Join(prefix, filepath.FromSlash(name))
	}

	// Pre-modification check: every listed file must be present.
	members, err := listRegularMembers(archivePath)
	if err != nil {
		return nil, err
	}
	for name := range wanted {
		if !members[name] {
			return nil, fmt.Errorf("%s is listed in the packing list but missing from %s", name, archivePath)
		}
	}

	// Validate sample destinations before touching anything either.
	for _, entry := range m.Entries {
		switch entry.Kind {
		case manifest.EntrySampleDir:
			if err := checkSamplePath(entry.Path); err != nil {
				return nil, err
			}
		case manifest.EntryFile:
			if entry.SamplePath != "" {
				if err := checkSamplePath(entry.SamplePath); err != nil {
					return nil, err
				}
			}
		}
	}

	report := &Report{}

	// Phase one: directories, in packing-list order.
	for _, entry := range m.Entries {
		switch entry.Kind {
		case manifest.EntryDir:
			name, err := safeExtractName(entry.Path)
			if err != nil {
				return report, err
			}
			target := filepath.Join(prefix, filepath.FromSlash(name))
			if err := os.MkdirAll(target, 0755); err != nil {
				return report, fmt.Errorf("creating directory %s: %w", target, err)
			}
			report.Dirs = append(report.Dirs, target)
		case manifest.EntrySampleDir:
			if err := os.MkdirAll(entry.Path, 0755); err != nil {
				return report, fmt.Errorf("creating sample directory %s: %w", entry.Path, err)
			}
			report.Dirs = append(report.Dirs, entry.Path)
		}
	}

	// Phase two: payload files the packing list names.
	archive, err := openArchive(archivePath)
	if err != nil {
		return report, err
	}
	defer archive.Close()
	for {
		header, err := archive.tar.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("reading %s: %w", archivePath, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		name, err := safeExtractName(header.Name)
		if err != nil {
			continue
		}
		target, ok := wanted[name]
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return report, fmt.Errorf("creating parent of %s: %w", target, err)
		}
		if err := writeMember(archive.tar, target, header); err != nil {
			return report, err
		}
		report.Files = append(report.Files, target)
	}

	// Phase three: sample destinations, only where nothing exists.
	for _, entry := range m.Files() {
		if entry.SamplePath == "" {
			continue
		}
		if _, err := os.Lstat(entry.SamplePath); err == nil {
			report.SamplesKept = append(report.SamplesKept, entry.SamplePath)
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return report, fmt.Errorf("checking sample destination %s: %w", entry.SamplePath, err)
		}

		source := filepath.Join(prefix, filepath.FromSlash(m.SampleSource(entry, overlayPrefix)))
		if err := copySample(source, entry.SamplePath); err != nil {
			return report, err
		}
		report.Samples = append(report.Samples, entry.SamplePath)
	}

	return report, nil
}

// listRegularMembers returns the set of regular-file member names.
func listRegularMembers(archivePath string) (map[string]bool, error) {
	archive, err := openArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	members := make(map[string]bool)
	for {
		header, err := archive.tar.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", archivePath, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		name, err := safeExtractName(header.Name)
		if err != nil {
			// A name that cannot be made safe can never be wanted.
			continue
		}
		members[name] = true
	}
	return members, nil
}

// checkSamplePath rejects sample destinations that are relative or
// climb with "..". Sample paths come from the archive's own packing
// list, so they get no benefit of the doubt.
func checkSamplePath(p string) error {
	if !filepath.IsAbs(p) {
		return fmt.Errorf("%w: sample destination %q is not absolute", ErrUnsafePath, p)
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return fmt.Errorf("%w: sample destination %q", ErrUnsafePath, p)
		}
	}
	return nil
}

// copySample copies an extracted payload file to a sample destination,
// preserving the source's permission bits. The destination is created
// exclusively: samples never overwrite.
func copySample(source, destination string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("reading sample source %s: %w", source, err)
	}
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("reading sample source %s: %w", source, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", destination, err)
	}
	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating sample %s: %w", destination, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("writing sample %s: %w", destination, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing sample %s: %w", destination, err)
	}
	return nil
}
