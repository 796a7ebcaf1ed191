// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/registry"
)

func infoCommand() *cli.Command {
	var (
		configPath   string
		showContents bool
	)

	return &cli.Command{
		Name:    "info",
		Summary: "show installed packages",
		Usage:   "distribute-pkg info [stem]",
		Description: "Without arguments, info lists every installed package with its\n" +
			"one-line description. With a stem it shows that package's full\n" +
			"description, and with --contents its packing list as well.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("info", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
			flagSet.BoolVar(&showContents, "contents", false, "also print the packing list")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return cli.Validation("at most one package stem may be given")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			reg := registry.Open(cfg.Paths.Registry)

			if len(args) == 0 {
				listings, err := reg.ListAll()
				if err != nil {
					return cli.Internal("%v", err)
				}
				tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
				for _, listing := range listings {
					fmt.Fprintf(tw, "%s\t%s\n", listing.Identity, listing.Description)
				}
				return tw.Flush()
			}

			entry, err := reg.Lookup(args[0])
			if errors.Is(err, registry.ErrNotFound) {
				return cli.NotFound("%v", err)
			}
			if err != nil {
				return cli.Internal("%v", err)
			}

			fmt.Println(entry.Identity)
			if len(entry.Description) > 0 {
				fmt.Printf("\n%s", entry.Description)
			}
			if showContents {
				fmt.Printf("\n%s", entry.Contents)
			}
			return nil
		},
	}
}
