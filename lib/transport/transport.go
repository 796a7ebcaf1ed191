// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport delivers distribution files to target hosts.
//
// A Transport is an authenticated file-copy channel to one host's drop
// directory. The distribution orchestrator constructs one per host,
// sends that host's signed bundles and group lists through it, and
// closes it. Two implementations exist: SSH (the production path) and
// a local-directory copy for same-host distribution and tests.
package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Transport is a file-copy channel to a single destination host.
type Transport interface {
	// Send copies the local file to the destination's drop directory
	// under remoteName. remoteName is a bare file name, never a path.
	Send(ctx context.Context, localPath, remoteName string) error

	// Close releases the channel. Safe to call after a Send error.
	Close() error
}

// Local copies files into a per-host subdirectory of a local root.
// Used when the target host is the distribution host itself, and in
// tests.
type Local struct {
	dir string
}

// NewLocal returns a Local transport delivering into <root>/<host>.
func NewLocal(root, host string) *Local {
	return &Local{dir: filepath.Join(root, host)}
}

// Dir returns the delivery directory.
func (l *Local) Dir() string { return l.dir }

// Send copies localPath to the delivery directory, creating it on
// first use. The copy is written to a temporary name and renamed so a
// concurrent reader of the drop directory never sees a partial file.
func (l *Local) Send(ctx context.Context, localPath, remoteName string) error {
	if err := checkRemoteName(remoteName); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("creating delivery directory %s: %w", l.dir, err)
	}

	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stating %s: %w", localPath, err)
	}

	target := filepath.Join(l.dir, remoteName)
	tmp, err := os.CreateTemp(l.dir, "."+remoteName+".*")
	if err != nil {
		return fmt.Errorf("creating temporary file in %s: %w", l.dir, err)
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return fmt.Errorf("copying %s: %w", localPath, err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return fmt.Errorf("setting mode on %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	success = true
	return nil
}

// Close is a no-op for the local transport.
func (l *Local) Close() error { return nil }

// checkRemoteName rejects remote names that are empty or carry path
// structure. The drop directory is flat; a name with separators or
// ".." would let a bad declaration write outside it.
func checkRemoteName(name string) error {
	if name == "" || name != filepath.Base(name) || name == ".." || name == "." {
		return fmt.Errorf("transport: invalid remote name %q", name)
	}
	return nil
}
