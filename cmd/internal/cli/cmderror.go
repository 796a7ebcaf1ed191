// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ErrorCategory classifies command errors so wrapping scripts can make
// decisions from the exit code without parsing error message text.
type ErrorCategory string

const (
	// CategoryValidation indicates the caller provided invalid input:
	// missing required arguments, wrong argument count, unparseable
	// values. The caller should fix the input and retry.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound indicates a referenced resource does not exist:
	// unknown package stem, missing declaration, absent key file.
	// Retrying with the same parameters will not help.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryVerification indicates a signature failed to verify or a
	// signing key was rejected by policy. Never retried automatically.
	CategoryVerification ErrorCategory = "verification"

	// CategoryConflict indicates the operation conflicts with existing
	// state: already-installed package, key file already present.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryInternal indicates an unexpected error: bugs, I/O
	// failures, parse errors on data the system produced.
	CategoryInternal ErrorCategory = "internal"
)

// exitCodes maps categories to process exit codes. 1 is reserved for
// uncategorized errors.
var exitCodes = map[ErrorCategory]int{
	CategoryValidation:   2,
	CategoryNotFound:     3,
	CategoryVerification: 4,
	CategoryConflict:     5,
	CategoryInternal:     1,
}

// CmdError is a categorized error returned by CLI commands. Use the
// category-specific constructors (Validation, NotFound, etc.) rather
// than constructing CmdError directly.
type CmdError struct {
	// Category classifies the error for exit-code mapping.
	Category ErrorCategory

	// Err is the underlying error with the human-readable message.
	Err error
}

// Error returns the underlying error message. The category is not
// included in the string; it travels through the exit code.
func (e *CmdError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error, allowing errors.Is and
// errors.As to walk the full chain through the CmdError wrapper.
func (e *CmdError) Unwrap() error { return e.Err }

// ExitCode maps the category to a process exit code.
func (e *CmdError) ExitCode() int {
	if code, ok := exitCodes[e.Category]; ok {
		return code
	}
	return 1
}

// Validation creates a validation error: the caller provided bad input.
func Validation(format string, args ...any) *CmdError {
	return &CmdError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error: a referenced resource does not exist.
func NotFound(format string, args ...any) *CmdError {
	return &CmdError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Verification creates a verification error: a signature or key was rejected.
func Verification(format string, args ...any) *CmdError {
	return &CmdError{Category: CategoryVerification, Err: fmt.Errorf(format, args...)}
}

// Conflict creates a conflict error: the operation conflicts with existing state.
func Conflict(format string, args ...any) *CmdError {
	return &CmdError{Category: CategoryConflict, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error: an unexpected failure, bug, or I/O error.
func Internal(format string, args ...any) *CmdError {
	return &CmdError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}
