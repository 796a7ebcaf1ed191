// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"
)

// ErrUnsafePath is returned for entry names that are absolute after
// normalization, empty, or step outside the archive root via "..".
var ErrUnsafePath = errors.New("bundle: entry path escapes archive root")

// Builder writes a gzip-compressed tar archive to a temporary file and
// renames it into place on Finish, so a crashed build never leaves a
// half-written bundle at the target path.
type Builder struct {
	outputPath string
	tmpPath    string

	file       *os.File
	hasher     *blake3.Hasher
	gzipWriter *gzip.Writer
	tarWriter  *tar.Writer

	done bool
}

// NewBuilder starts a bundle at outputPath. The caller must call
// Finish or Abort.
func NewBuilder(outputPath string) (*Builder, error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(outputPath), ".bundle-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp bundle file: %w", err)
	}

	hasher := newHasher()
	gzipWriter := gzip.NewWriter(io.MultiWriter(tmpFile, hasher))

	return &Builder{
		outputPath: outputPath,
		tmpPath:    tmpFile.Name(),
		file:       tmpFile,
		hasher:     hasher,
		gzipWriter: gzipWriter,
		tarWriter:  tar.NewWriter(gzipWriter),
	}, nil
}

// normalizeEntryName makes an entry name archive-safe: slash-separated,
// no leading slash, no "." or ".." steps. The ".." check runs before
// Clean, which would otherwise collapse climbing segments away.
func normalizeEntryName(name string) (string, error) {
	slashed := filepath.ToSlash(name)
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
	}
	cleaned := path.Clean("/" + slashed)[1:]
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return cleaned, nil
}

// AddBytes writes an in-memory entry, used for the +CONTENTS and
// +DESC members of package archives.
func (b *Builder) AddBytes(name string, data []byte, mode fs.FileMode, modTime time.Time) error {
	entryName, err := normalizeEntryName(name)
	if err != nil {
		return err
	}
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     entryName,
		Size:     int64(len(data)),
		Mode:     int64(mode.Perm()),
		ModTime:  modTime,
	}
	if err := b.tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("writing header for %s: %w", entryName, err)
	}
	if _, err := b.tarWriter.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", entryName, err)
	}
	return nil
}

// AddFile copies the file at diskPath into the archive under name,
// preserving its permission bits and modification time. Regular files
// and symlinks are supported; anything else (device, fifo, socket) is
// an error because no destination host should receive one from a
// configuration bundle.
func (b *Builder) AddFile(name, diskPath string) error {
	entryName, err := normalizeEntryName(name)
	if err != nil {
		return err
	}

	info, err := os.Lstat(diskPath)
	if err != nil {
		return fmt.Errorf("stating %s: %w", diskPath, err)
	}

	switch {
	case info.Mode().IsRegular():
		header := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     entryName,
			Size:     info.Size(),
			Mode:     int64(info.Mode().Perm()),
			ModTime:  info.ModTime(),
		}
		if err := b.tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("writing header for %s: %w", entryName, err)
		}
		file, err := os.Open(diskPath)
		if err != nil {
			return fmt.Errorf("opening %s: %w", diskPath, err)
		}
		written, err := io.Copy(b.tarWriter, file)
		file.Close()
		if err != nil {
			return fmt.Errorf("writing %s: %w", entryName, err)
		}
		if written != info.Size() {
			return fmt.Errorf("%s changed size during archiving (%d, then %d bytes)", diskPath, info.Size(), written)
		}
		return nil

	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(diskPath)
		if err != nil {
			return fmt.Errorf("reading symlink %s: %w", diskPath, err)
		}
		header := &tar.Header{
			Typeflag: tar.TypeSymlink,
			Name:     entryName,
			Linkname: target,
			Mode:     0777,
			ModTime:  info.ModTime(),
		}
		if err := b.tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("writing symlink header for %s: %w", entryName, err)
		}
		return nil

	default:
		return fmt.Errorf("%s: unsupported file type %s", diskPath, info.Mode().Type())
	}
}

// Finish flushes and closes the archive, renames it to the output
// path, and returns the digest of the written bytes.
func (b *Builder) Finish() (Digest, error) {
	if b.done {
		return Digest{}, fmt.Errorf("bundle builder already finished")
	}
	b.done = true

	success := false
	defer func() {
		if !success {
			os.Remove(b.tmpPath)
		}
	}()

	if err := b.tarWriter.Close(); err != nil {
		b.file.Close()
		return Digest{}, fmt.Errorf("closing tar stream: %w", err)
	}
	if err := b.gzipWriter.Close(); err != nil {
		b.file.Close()
		return Digest{}, fmt.Errorf("closing gzip stream: %w", err)
	}
	if err := b.file.Sync(); err != nil {
		b.file.Close()
		return Digest{}, fmt.Errorf("syncing bundle: %w", err)
	}
	if err := b.file.Close(); err != nil {
		return Digest{}, fmt.Errorf("closing bundle: %w", err)
	}

	if err := os.Rename(b.tmpPath, b.outputPath); err != nil {
		return Digest{}, fmt.Errorf("renaming bundle into place: %w", err)
	}
	success = true

	var digest Digest
	copy(digest[:], b.hasher.Sum(nil))
	return digest, nil
}

// Abort discards the partial archive. Safe after Finish (no-op).
func (b *Builder) Abort() {
	if b.done {
		return
	}
	b.done = true
	b.tarWriter.Close()
	b.gzipWriter.Close()
	b.file.Close()
	os.Remove(b.tmpPath)
}

// Build archives the named files from under root into outputPath and
// returns the bundle digest. Names are root-relative and become the
// entry names verbatim (after normalization), so a staging tree laid
// out as the destination filesystem produces a bundle extractable
// from "/".
func Build(outputPath, root string, names []string) (Digest, error) {
	builder, err := NewBuilder(outputPath)
	if err != nil {
		return Digest{}, err
	}

	for _, name := range names {
		if err := builder.AddFile(name, filepath.Join(root, filepath.FromSlash(name))); err != nil {
			builder.Abort()
			return Digest{}, err
		}
	}
	return builder.Finish()
}
