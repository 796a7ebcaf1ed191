// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework shared by the distribute
// binaries: a pflag-based command tree with structured help, typo
// suggestions, categorized errors mapped to exit codes, and the
// standard command logger.
package cli
