// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/secret"
	"github.com/lippard661/distribute/lib/signature"
)

func keygenCommand() *cli.Command {
	var (
		configPath string
		keyName    string
		noPass     bool
	)

	return &cli.Command{
		Name:    "keygen",
		Summary: "generate a signing keypair",
		Usage:   "distribute keygen [--name <keyname>]",
		Description: "Keygen generates an Ed25519 signing keypair in the configured key\n" +
			"directory. The default name is the current-year domain key\n" +
			"(<domain>-<year>); the secret key is encrypted under a passphrase\n" +
			"unless --no-passphrase is given.",
		Examples: []cli.Example{
			{
				Description: "generate next year's rotation key early",
				Command:     "distribute keygen --name example.com-2027",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
			flagSet.StringVar(&keyName, "name", "", "key name (default <domain>-<current year>)")
			flagSet.BoolVar(&noPass, "no-passphrase", false, "store the secret key unencrypted")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return cli.Validation("keygen takes no positional arguments")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if keyName == "" {
				keyName = fmt.Sprintf("%s-%d", cfg.Signer.Domain, time.Now().Year())
			}

			pubPath, secPath := signature.KeyPaths(cfg.Paths.Keys, keyName)
			for _, path := range []string{pubPath, secPath} {
				if _, err := os.Lstat(path); err == nil {
					return cli.Conflict("%s already exists; refusing to overwrite", path)
				}
			}

			var passphrase *secret.Buffer
			if !noPass {
				passphrase, err = secret.PromptConfirmed(
					fmt.Sprintf("passphrase for %s: ", keyName),
					"confirm passphrase: ")
				if err != nil {
					return cli.Internal("reading passphrase: %v", err)
				}
				defer passphrase.Close()
			}

			keypair, err := signature.Generate(keyName)
			if err != nil {
				return cli.Internal("%v", err)
			}
			defer keypair.Close()

			if err := os.MkdirAll(cfg.Paths.Keys, 0755); err != nil {
				return cli.Internal("creating key directory: %v", err)
			}
			if err := keypair.Save(cfg.Paths.Keys, keyName, passphrase); err != nil {
				return cli.Internal("%v", err)
			}

			fmt.Printf("generated %s\n  public: %s\n  secret: %s\n", keyName, pubPath, secPath)
			return nil
		},
	}
}
