// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package lockdown

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const flagsSupported = true

// FS_IMMUTABLE_FL from linux/fs.h; x/sys/unix exports the ioctl
// numbers but not the flag bits.
const fsImmutableFl = 0x00000010

// setImmutable toggles FS_IMMUTABLE_FL on the path via the inode
// flags ioctl. Requires CAP_LINUX_IMMUTABLE.
func setImmutable(path string, immutable bool) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer unix.Close(fd)

	flags, err := unix.IoctlGetUint32(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return fmt.Errorf("reading inode flags of %s: %w", path, err)
	}

	if immutable {
		flags |= fsImmutableFl
	} else {
		flags &^= fsImmutableFl
	}

	if err := unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, int(flags)); err != nil {
		return fmt.Errorf("setting inode flags of %s: %w", path, err)
	}
	return nil
}
