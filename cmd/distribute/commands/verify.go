// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/signature"
)

func verifyCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "verify",
		Summary: "verify detached signatures against the trust policy",
		Usage:   "distribute verify <file>...",
		Description: "Verify checks each file's detached .sig signature against the\n" +
			"configured key ring: the current-year domain key first, then any\n" +
			"allowed fallback key the signature names.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return cli.Validation("at least one file to verify is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ring, err := openKeyring(cfg)
			if err != nil {
				return err
			}

			for _, path := range args {
				verification, err := ring.VerifyFile(path, signature.SigPath(path))
				if err != nil {
					return cli.Verification("%s: %v", path, err)
				}
				note := ""
				if verification.Fallback {
					note = " (fallback key)"
				}
				fmt.Printf("%s: good signature by %s%s\n", path, verification.KeyName, note)
			}
			return nil
		},
	}
}
