// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// FileChecksum returns the base64 SHA-256 digest and byte size of the
// file at path, in the encoding @sha and @size use.
func FileChecksum(path string) (sha string, size int64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	digest := sha256.New()
	size, err = io.Copy(digest, file)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(digest.Sum(nil)), size, nil
}

// Unchanged reports whether the file at path still has the checksum
// and size recorded in the entry. Used before deleting sample files on
// upgrade: an edited sample is evidence of local configuration and
// must survive. An entry without a recorded checksum compares as
// changed, erring on the side of keeping the file.
func (e *Entry) Unchanged(path string) (bool, error) {
	if e.SHA == "" || e.Size < 0 {
		return false, nil
	}
	sha, size, err := FileChecksum(path)
	if err != nil {
		return false, err
	}
	return sha == e.SHA && size == e.Size, nil
}

// NewFileEntry builds a file entry for relPath from the file on disk
// at diskPath, recording checksum, size, and modification time.
func NewFileEntry(relPath, diskPath string) (Entry, error) {
	sha, size, err := FileChecksum(diskPath)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(diskPath)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Kind:      EntryFile,
		Path:      relPath,
		SHA:       sha,
		Size:      size,
		Timestamp: info.ModTime().Unix(),
	}, nil
}
