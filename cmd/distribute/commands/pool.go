// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/pool"
)

func poolCommand() *cli.Command {
	return &cli.Command{
		Name:    "pool",
		Summary: "inspect the package pool",
		Subcommands: []*cli.Command{
			poolLatestCommand(),
			poolListCommand(),
		},
	}
}

func poolLatestCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "latest",
		Summary: "show the newest pool package for a stem",
		Usage:   "distribute pool latest <stem>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("latest", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("exactly one package stem is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			candidate, err := pool.New(cfg.Paths.Pool).FindLatest(args[0])
			if errors.Is(err, pool.ErrNoPackage) {
				return cli.NotFound("%v", err)
			}
			if err != nil {
				return cli.Internal("%v", err)
			}
			fmt.Printf("%s\t%s\n", candidate.Identity, candidate.Path)
			return nil
		},
	}
}

func poolListCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "list",
		Summary: "list pool packages",
		Usage:   "distribute pool list [stem]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
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

			p := pool.New(cfg.Paths.Pool)
			var candidates []pool.Candidate
			if len(args) == 1 {
				candidates, err = p.List(args[0])
			} else {
				candidates, err = p.Scan()
			}
			if err != nil {
				return cli.Internal("%v", err)
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "PACKAGE\tSIZE\tMODIFIED\tDIGEST\n")
			for _, candidate := range candidates {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%.16s\n",
					candidate.Identity, candidate.Size,
					time.Unix(candidate.ModTime, 0).Format("2006-01-02 15:04"),
					candidate.Digest)
			}
			return tw.Flush()
		},
	}
}
