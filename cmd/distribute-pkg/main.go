// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// distribute-pkg is the minimal package manager front-end: add,
// delete, and inspect registered packages directly, without going
// through the drop-directory install flow.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lippard661/distribute/cmd/distribute-pkg/commands"
	"github.com/lippard661/distribute/cmd/internal/cli"
)

func main() {
	if err := run(); err != nil {
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
