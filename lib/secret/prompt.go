// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Prompt writes the prompt to stderr and reads a passphrase from stdin
// with terminal echo disabled. When stdin is not a terminal (piped
// input), the prompt is skipped and one line is read instead, so
// scripted callers can feed the passphrase on stdin.
//
// The returned buffer is mmap-backed and must be closed by the caller.
func Prompt(prompt string) (*Buffer, error) {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return ReadFromPath("-")
	}

	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}

	// NewFromBytes zeros the heap copy after moving it.
	return NewFromBytes(passphrase)
}

// PromptConfirmed prompts for a passphrase twice and verifies both
// entries match, for use when setting a new passphrase. When stdin is
// not a terminal, a single line is read without confirmation.
//
// The returned buffer is mmap-backed and must be closed by the caller.
func PromptConfirmed(prompt, confirmPrompt string) (*Buffer, error) {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return ReadFromPath("-")
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}

	fmt.Fprint(os.Stderr, confirmPrompt)
	second, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Zero(first)
		return nil, fmt.Errorf("reading passphrase confirmation: %w", err)
	}

	match := len(first) == len(second)
	if match {
		for index := range first {
			if first[index] != second[index] {
				match = false
				break
			}
		}
	}
	Zero(second)

	if !match {
		Zero(first)
		return nil, fmt.Errorf("passphrases do not match")
	}

	// Move into mmap-backed memory; NewFromBytes zeros the source.
	return NewFromBytes(first)
}
