// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockdown toggles filesystem protection groups on a
// destination host: named sets of locations whose immutability is
// raised and lowered together around an install run.
//
// Two implementations exist. [ExecLocker] shells out to the host's
// lock and unlock commands (syslock/sysunlock convention) and works
// wherever those commands do. [FlagLocker] toggles the immutable flag
// directly through the kernel interface on platforms that have one.
//
// [Scope] wraps either so relocking happens on every exit path.
package lockdown

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Locker raises and lowers one protection group's filesystem locks.
type Locker interface {
	// Unlock makes the group's locations writable.
	Unlock(ctx context.Context, group string) error

	// Lock restores the group's locations to immutable.
	Lock(ctx context.Context, group string) error
}

// ExecLocker runs configured lock/unlock commands with the group name
// as the sole argument.
type ExecLocker struct {
	// LockCommand and UnlockCommand are the command names or paths.
	LockCommand   string
	UnlockCommand string
}

// NewExecLocker builds an ExecLocker, defaulting to the
// syslock/sysunlock convention.
func NewExecLocker(lockCommand, unlockCommand string) *ExecLocker {
	if lockCommand == "" {
		lockCommand = "syslock"
	}
	if unlockCommand == "" {
		unlockCommand = "sysunlock"
	}
	return &ExecLocker{LockCommand: lockCommand, UnlockCommand: unlockCommand}
}

// Unlock implements Locker.
func (l *ExecLocker) Unlock(ctx context.Context, group string) error {
	return runLockCommand(ctx, l.UnlockCommand, group)
}

// Lock implements Locker.
func (l *ExecLocker) Lock(ctx context.Context, group string) error {
	return runLockCommand(ctx, l.LockCommand, group)
}

func runLockCommand(ctx context.Context, command, group string) error {
	cmd := exec.CommandContext(ctx, command, group)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			return fmt.Errorf("%s %s: %w: %s", command, group, err, detail)
		}
		return fmt.Errorf("%s %s: %w", command, group, err)
	}
	return nil
}

// Scope tracks which groups an install run has unlocked so they can
// all be relocked afterwards, failures included.
type Scope struct {
	locker   Locker
	unlocked []string
}

// NewScope wraps a locker.
func NewScope(locker Locker) *Scope {
	return &Scope{locker: locker}
}

// Unlock unlocks each group in order, remembering the ones that
// succeeded. When forced is true any unlock failure is fatal:
// proceeding on the assumption that a group was already unlocked
// would write through unknown protection state. When forced is false
// a failed unlock is returned after all groups were attempted, and
// the successfully unlocked ones remain tracked for relock.
func (s *Scope) Unlock(ctx context.Context, groups []string, forced bool) error {
	var firstErr error
	for _, group := range groups {
		if err := s.locker.Unlock(ctx, group); err != nil {
			if forced {
				return fmt.Errorf("unlocking group %s: %w", group, err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("unlocking group %s: %w", group, err)
			}
			continue
		}
		s.unlocked = append(s.unlocked, group)
	}
	return firstErr
}

// Relock locks every group Unlock succeeded on, in reverse order.
// Failures are logged and do not stop the remaining groups: leaving
// one group locked-out is better than leaving three unlocked.
func (s *Scope) Relock(ctx context.Context, logger *slog.Logger) {
	for i := len(s.unlocked) - 1; i >= 0; i-- {
		group := s.unlocked[i]
		if err := s.locker.Lock(ctx, group); err != nil {
			logger.Warn("relocking protection group failed", "group", group, "error", err)
		}
	}
	s.unlocked = nil
}

// Unlocked returns the groups currently held unlocked by this scope.
func (s *Scope) Unlocked() []string {
	return append([]string(nil), s.unlocked...)
}
