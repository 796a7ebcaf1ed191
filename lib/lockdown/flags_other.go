// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package lockdown

import "fmt"

const flagsSupported = false

func setImmutable(path string, immutable bool) error {
	return fmt.Errorf("lockdown: immutable flags are not supported on this platform")
}
