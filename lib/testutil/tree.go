// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteTree creates the given files under root, creating parent
// directories as needed. Keys are slash-separated relative paths; a
// key with a trailing slash creates an empty directory. Files are
// written mode 0644.
//
//	testutil.WriteTree(t, root, map[string]string{
//	    "etc/motd":        "hello\n",
//	    "var/empty/":      "",
//	})
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		target := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(target, 0755); err != nil {
				t.Fatalf("creating directory %s: %v", target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			t.Fatalf("creating parent of %s: %v", target, err)
		}
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", target, err)
		}
	}
}

// ReadFile returns the contents of the file, failing the test on any
// error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

// AssertContent fails the test unless the file exists with exactly the
// wanted content.
func AssertContent(t *testing.T, path, want string) {
	t.Helper()
	if got := ReadFile(t, path); got != want {
		t.Errorf("%s content = %q, want %q", path, got, want)
	}
}

// AssertNotExist fails the test if anything exists at path.
func AssertNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); err == nil {
		t.Errorf("%s exists, want absent", path)
	}
}
