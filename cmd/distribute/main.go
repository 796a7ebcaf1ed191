// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lippard661/distribute/cmd/distribute/commands"
	"github.com/lippard661/distribute/cmd/internal/cli"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like ship's per-host
		// report) return an ExitError with the desired exit code. Don't
		// print a redundant "error:" line for those.
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
