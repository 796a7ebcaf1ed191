// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package auditlog appends install-run records to the destination
// host's audit trail: an append-only text file, one entry per run
// that installed at least one thing. A run that installs nothing
// writes nothing.
package auditlog

import (
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"
)

// Entry is one install run's record: a date-user header followed by
// one action line per installed item, each optionally carrying
// sub-detail lines (the extracted paths of a host bundle).
type Entry struct {
	actions []action
}

type action struct {
	summary string
	details []string
}

// Add records one action ("installed foo-1.0") with optional detail
// lines.
func (e *Entry) Add(summary string, details ...string) {
	e.actions = append(e.actions, action{summary: summary, details: details})
}

// Empty reports whether the entry has no actions. Empty entries are
// never written.
func (e *Entry) Empty() bool { return len(e.actions) == 0 }

// format renders the entry: header line, then tab-indented action
// lines, then doubly-indented detail lines.
func (e *Entry) format(now time.Time, username string) string {
	var out strings.Builder
	fmt.Fprintf(&out, "%s (%s):\n", now.Format("2006-01-02 15:04:05"), username)
	for _, act := range e.actions {
		fmt.Fprintf(&out, "\t%s\n", act.summary)
		for _, detail := range act.details {
			fmt.Fprintf(&out, "\t\t%s\n", detail)
		}
	}
	return out.String()
}

// Append writes the entry to the audit log at path, creating the file
// if needed. The rendered entry goes out in a single O_APPEND write
// so concurrent appenders cannot interleave within an entry. An empty
// entry is a no-op.
func Append(path string, entry *Entry) error {
	return appendAt(path, entry, time.Now(), currentUser())
}

// appendAt is Append with the clock and user injected for tests.
func appendAt(path string, entry *Entry, now time.Time, username string) error {
	if entry.Empty() {
		return nil
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	_, writeErr := file.WriteString(entry.format(now, username))
	closeErr := file.Close()
	if writeErr != nil {
		return fmt.Errorf("writing audit log: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing audit log: %w", closeErr)
	}
	return nil
}

// currentUser resolves the invoking user: os/user, then $USER, then
// the numeric uid.
func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return fmt.Sprintf("uid%d", os.Getuid())
}
