// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/signature"
)

func addCommand() *cli.Command {
	var (
		configPath string
		verify     bool
	)

	return &cli.Command{
		Name:    "add",
		Summary: "install package archives",
		Usage:   "distribute-pkg add <archive>...",
		Description: "Add installs each package archive: a fresh install for a stem\n" +
			"that is not yet registered, an upgrade when an older version is,\n" +
			"and a no-op when the same version already is. Downgrades are\n" +
			"refused.",
		Examples: []cli.Example{
			{
				Description: "install a package straight from the pool",
				Command:     "distribute-pkg add /var/distribute/pool/rsync-3.3.0.tgz",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
			flagSet.BoolVar(&verify, "verify", false, "require a good detached signature on each archive")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return cli.Validation("at least one package archive is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			mgr := newManager(cfg)

			var ring *signature.Keyring
			if verify {
				ring, err = signature.NewKeyring(cfg.Paths.Keys, cfg.Signer.Domain,
					cfg.Signer.Vendor, cfg.Signer.MinYear, cfg.Signer.MinRelease)
				if err != nil {
					return cli.Validation("%v", err)
				}
			}

			ctx := context.Background()
			for _, archive := range args {
				if ring != nil {
					if _, err := ring.VerifyFile(archive, signature.SigPath(archive)); err != nil {
						return cli.Verification("%s: %v", archive, err)
					}
				}
				outcome, err := mgr.Install(ctx, archive)
				if errors.Is(err, os.ErrNotExist) {
					return cli.NotFound("%v", err)
				}
				if err != nil {
					return cli.Conflict("%s: %v", archive, err)
				}
				fmt.Println(outcome)
			}
			return nil
		},
	}
}
