// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package pkgver

import (
	"fmt"
	"strings"
)

// SplitIdentity splits a package identity of the form
// <stem>-<version>[-<variant>] into its parts. The version begins at
// the first "-" that is followed by a digit, so stems containing
// hyphens ("xfce4-panel") split correctly. Version strings never
// contain hyphens; anything after the next "-" is the variant,
// verbatim.
func SplitIdentity(identity string) (stem, version, variant string, err error) {
	boundary := versionBoundary(identity)
	if boundary < 0 {
		return "", "", "", fmt.Errorf("pkgver: identity %q has no version", identity)
	}

	stem = identity[:boundary]
	rest := identity[boundary+1:]
	version, variant, _ = strings.Cut(rest, "-")
	if version == "" {
		return "", "", "", fmt.Errorf("pkgver: identity %q has an empty version", identity)
	}
	return stem, version, variant, nil
}

// JoinIdentity assembles an identity string from its parts.
func JoinIdentity(stem, version, variant string) string {
	identity := stem + "-" + version
	if variant != "" {
		identity += "-" + variant
	}
	return identity
}

// HasStem reports whether the identity belongs to the package stem:
// either an exact match or the stem followed by a version boundary.
// This is the lookup rule that keeps a query for "foo" from matching
// an installed "foobar-1.0".
func HasStem(identity, stem string) bool {
	if identity == stem {
		return true
	}
	if !strings.HasPrefix(identity, stem+"-") {
		return false
	}
	rest := identity[len(stem)+1:]
	return rest != "" && isDigit(rest[0])
}

// versionBoundary returns the index of the first "-" followed by a
// digit, or -1.
func versionBoundary(identity string) int {
	for i := 0; i+1 < len(identity); i++ {
		if identity[i] == '-' && isDigit(identity[i+1]) {
			return i
		}
	}
	return -1
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
