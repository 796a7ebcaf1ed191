// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/registry"
)

func deleteCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "delete",
		Summary: "remove installed packages",
		Usage:   "distribute-pkg delete <stem>...",
		Description: "Delete removes each installed package named by stem or full\n" +
			"identity: payload files, sample destinations the host never\n" +
			"edited, emptied directories, and the registry entry. Edited\n" +
			"sample destinations are kept and reported.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return cli.Validation("at least one package stem is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			mgr := newManager(cfg)

			ctx := context.Background()
			for _, stem := range args {
				identity, preserved, err := mgr.Delete(ctx, stem)
				if errors.Is(err, registry.ErrNotFound) {
					return cli.NotFound("%v", err)
				}
				if err != nil {
					return cli.Internal("deleting %s: %v", stem, err)
				}
				fmt.Printf("deleted %s\n", identity)
				for _, path := range preserved {
					fmt.Printf("kept edited configuration %s\n", path)
				}
			}
			return nil
		},
	}
}
