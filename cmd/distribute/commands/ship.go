// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/config"
	"github.com/lippard661/distribute/lib/declaration"
	"github.com/lippard661/distribute/lib/pool"
	"github.com/lippard661/distribute/lib/ship"
	"github.com/lippard661/distribute/lib/transport"
)

func shipCommand() *cli.Command {
	var (
		configPath string
		declPath   string
		keyName    string
		ipv4Only   bool
		ipv6Only   bool
		verbose    bool
	)

	return &cli.Command{
		Name:    "ship",
		Summary: "distribute declared artifacts to their hosts",
		Usage:   "distribute ship -f <declaration.yaml> [artifact...]",
		Description: "Ship processes an artifact declaration: staged files become one\n" +
			"signed bundle per host, pool packages are verified and passed\n" +
			"through, and everything is delivered to each host's drop\n" +
			"directory. Naming artifacts limits the run to those artifacts.",
		Examples: []cli.Example{
			{
				Description: "ship everything the declaration names",
				Command:     "distribute ship -f /etc/distribute/artifacts.yaml",
			},
			{
				Description: "ship only the resolver configuration",
				Command:     "distribute ship -f artifacts.yaml resolv-conf",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ship", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
			flagSet.StringVarP(&declPath, "declaration", "f", "", "artifact declaration file")
			flagSet.StringVar(&keyName, "key", "", "signing key name (default the current-year domain key)")
			flagSet.BoolVarP(&ipv4Only, "ipv4", "4", false, "dial hosts over IPv4 only")
			flagSet.BoolVarP(&ipv6Only, "ipv6", "6", false, "dial hosts over IPv6 only")
			flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
			return flagSet
		},
		Run: func(args []string) error {
			if declPath == "" {
				return cli.Validation("a declaration file is required (-f)")
			}
			if ipv4Only && ipv6Only {
				return cli.Validation("-4 and -6 are mutually exclusive")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			decl, err := declaration.Load(declPath)
			if err != nil {
				return cli.Validation("%v", err)
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

			if err := cfg.EnsurePaths(); err != nil {
				return cli.Internal("%v", err)
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := cli.NewCommandLoggerLevel(level).With("command", "ship")
			orchestrator := &ship.Orchestrator{
				Config:       cfg,
				Pool:         pool.New(cfg.Paths.Pool),
				Keyring:      ring,
				Signer:       signer,
				SignKeyName:  signerName,
				NewTransport: transportFactory(cfg, ipv4Only, ipv6Only),
				Logger:       logger,
			}

			result, err := orchestrator.Run(context.Background(), decl, args)
			if err != nil {
				return err
			}

			for _, host := range result.Hosts {
				if host.Err != nil {
					fmt.Fprintf(os.Stderr, "%s: FAILED: %v\n", host.Host, host.Err)
					continue
				}
				fmt.Printf("%s: %d file(s) delivered\n", host.Host, len(host.Sent))
			}
			if result.Failed() {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// transportFactory builds the per-host transport constructor from the
// configuration and the operator's address-family pin.
func transportFactory(cfg *config.Config, ipv4Only, ipv6Only bool) ship.TransportFactory {
	return func(ctx context.Context, host string) (transport.Transport, error) {
		if cfg.Transport.Kind == "local" {
			return transport.NewLocal(cfg.Transport.Root, host), nil
		}

		network := "tcp"
		suffix := ""
		switch {
		case ipv4Only:
			network = "tcp4"
			suffix = cfg.Transport.Suffix4
		case ipv6Only:
			network = "tcp6"
			suffix = cfg.Transport.Suffix6
		}
		address, err := cfg.HostAddress(host, suffix)
		if err != nil {
			return nil, err
		}

		return transport.DialSSH(ctx, address, transport.SSHConfig{
			User:           cfg.Transport.User,
			Port:           cfg.Transport.Port,
			Network:        network,
			KnownHostsPath: cfg.Transport.KnownHosts,
			KeyFile:        cfg.Transport.KeyFile,
			DropDir:        cfg.Paths.Drop,
		})
	}
}
