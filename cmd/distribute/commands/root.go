// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the distribute CLI command tree: the
// source-host operator surface for shipping artifacts, managing
// signing keys, and inspecting the package pool.
package commands

import (
	"github.com/lippard661/distribute/cmd/internal/cli"
)

// Root returns the distribute command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "distribute",
		Summary: "signed configuration and package distribution",
		Description: "distribute builds, signs, and ships configuration files and\n" +
			"package archives to destination hosts, driven by an artifact\n" +
			"declaration file.",
		Subcommands: []*cli.Command{
			shipCommand(),
			keygenCommand(),
			signCommand(),
			verifyCommand(),
			poolCommand(),
			versionCommand(),
		},
	}
}
