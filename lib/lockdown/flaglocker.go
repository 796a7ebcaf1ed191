// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package lockdown

import (
	"context"
	"fmt"
)

// FlagLocker toggles the immutable flag directly on each path a group
// protects, using the platform kernel interface (FS_IOC_SETFLAGS on
// Linux, chflags on the BSDs). Paths are toggled individually, not
// recursively: list every location the group protects.
type FlagLocker struct {
	groups map[string][]string
}

// NewFlagLocker builds a FlagLocker over the group-to-paths map.
// Errors on platforms without an immutable-flag interface; use
// ExecLocker there.
func NewFlagLocker(groups map[string][]string) (*FlagLocker, error) {
	if !flagsSupported {
		return nil, fmt.Errorf("lockdown: immutable flags are not supported on this platform")
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("lockdown: flag locker needs a group map")
	}
	return &FlagLocker{groups: groups}, nil
}

// Unlock implements Locker.
func (l *FlagLocker) Unlock(ctx context.Context, group string) error {
	return l.apply(ctx, group, false)
}

// Lock implements Locker.
func (l *FlagLocker) Lock(ctx context.Context, group string) error {
	return l.apply(ctx, group, true)
}

func (l *FlagLocker) apply(ctx context.Context, group string, immutable bool) error {
	paths, ok := l.groups[group]
	if !ok {
		return fmt.Errorf("lockdown: unknown protection group %q", group)
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := setImmutable(path, immutable); err != nil {
			return fmt.Errorf("group %s: %w", group, err)
		}
	}
	return nil
}
