// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package lockdown

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const flagsSupported = true

// setImmutable toggles SF_IMMUTABLE on the path via chflags.
// Requires running with securelevel low enough to clear system flags.
func setImmutable(path string, immutable bool) error {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return fmt.Errorf("stating %s: %w", path, err)
	}

	flags := int(stat.Flags)
	if immutable {
		flags |= unix.SF_IMMUTABLE
	} else {
		flags &^= unix.SF_IMMUTABLE
	}

	if err := unix.Chflags(path, flags); err != nil {
		return fmt.Errorf("chflags %s: %w", path, err)
	}
	return nil
}
