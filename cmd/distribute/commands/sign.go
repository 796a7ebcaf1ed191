// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/signature"
)

func signCommand() *cli.Command {
	var (
		configPath string
		keyName    string
	)

	return &cli.Command{
		Name:    "sign",
		Summary: "write detached signatures for files",
		Usage:   "distribute sign <file>...",
		Description: "Sign writes a detached .sig signature next to each file, made\n" +
			"with the current-year domain key or the key named by --key. The\n" +
			"passphrase is entered once for the whole batch.",
		Examples: []cli.Example{
			{
				Description: "sign a freshly built pool package",
				Command:     "distribute sign /var/distribute/pool/rsync-3.3.0.tgz",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("sign", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
			flagSet.StringVar(&keyName, "key", "", "signing key name (default the current-year domain key)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return cli.Validation("at least one file to sign is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ring, err := openKeyring(cfg)
			if err != nil {
				return err
			}
			signer, signerName, err := loadSigner(cfg, ring, keyName)
			if err != nil {
				return err
			}
			defer signer.Close()

			for _, path := range args {
				if err := signature.SignFile(signer, signerName, path); err != nil {
					return cli.Internal("signing %s: %v", path, err)
				}
				fmt.Printf("signed %s (%s)\n", path, signerName)
			}
			return nil
		},
	}
}
