// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands implements the distribute-pkg command tree.
package commands

import (
	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/config"
	"github.com/lippard661/distribute/lib/pkgmgr"
	"github.com/lippard661/distribute/lib/registry"
)

// Root returns the distribute-pkg command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "distribute-pkg",
		Summary: "manage installed packages directly",
		Description: "distribute-pkg operates on the installed-package registry and\n" +
			"payload files without the drop-directory flow: add installs a\n" +
			"package archive in place, delete removes an installed package,\n" +
			"and info inspects what is registered.",
		Subcommands: []*cli.Command{
			addCommand(),
			deleteCommand(),
			infoCommand(),
			versionCommand(),
		},
	}
}

// loadConfig resolves the configuration: the --config flag when given,
// DISTRIBUTE_CONFIG otherwise.
func loadConfig(configPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, cli.Validation("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Validation("invalid configuration: %v", err)
	}
	return cfg, nil
}

// newManager builds the package manager from the configuration.
func newManager(cfg *config.Config) *pkgmgr.Manager {
	return &pkgmgr.Manager{
		Registry:      registry.Open(cfg.Paths.Registry),
		Prefix:        cfg.Install.Prefix,
		OverlayPrefix: cfg.Install.OverlayPrefix,
		Logger:        cli.NewCommandLogger().With("command", "pkg"),
	}
}
