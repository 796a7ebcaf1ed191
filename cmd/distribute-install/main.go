// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// distribute-install is the destination-host installer: it drains the
// drop directory the transport delivered into, verifying, unlocking,
// installing, relocking, and auditing in one pass. Typically run from
// cron or immediately after a distribution.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/config"
	"github.com/lippard661/distribute/lib/install"
	"github.com/lippard661/distribute/lib/lockdown"
	"github.com/lippard661/distribute/lib/pkgmgr"
	"github.com/lippard661/distribute/lib/registry"
	"github.com/lippard661/distribute/lib/signature"
	"github.com/lippard661/distribute/lib/version"
)

func main() {
	if err := run(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		hostname    string
		forced      bool
		noLock      bool
		verbose     bool
		showVersion bool
	)
	flags := pflag.NewFlagSet("distribute-install", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "configuration file (default $DISTRIBUTE_CONFIG)")
	flags.StringVar(&hostname, "hostname", "", "override this host's name for bundle matching")
	flags.BoolVar(&forced, "force", false, "treat a group unlock failure as fatal")
	flags.BoolVar(&noLock, "no-lock", false, "skip the unlock/relock cycle")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flags.BoolVar(&showVersion, "version", false, "show version information")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return cli.Validation("%v", err)
	}
	if showVersion {
		fmt.Println(version.Info())
		return nil
	}
	if flags.NArg() != 0 {
		return cli.Validation("distribute-install takes no positional arguments")
	}
	if forced && noLock {
		return cli.Validation("--force and --no-lock are mutually exclusive")
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cli.Validation("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Validation("invalid configuration: %v", err)
	}

	ring, err := signature.NewKeyring(cfg.Paths.Keys, cfg.Signer.Domain,
		cfg.Signer.Vendor, cfg.Signer.MinYear, cfg.Signer.MinRelease)
	if err != nil {
		return cli.Validation("%v", err)
	}
	locker, err := newLocker(cfg)
	if err != nil {
		return cli.Validation("%v", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := cli.NewCommandLoggerLevel(level).With("command", "install")
	orchestrator := &install.Orchestrator{
		Config:  cfg,
		Keyring: ring,
		Manager: &pkgmgr.Manager{
			Registry:      registry.Open(cfg.Paths.Registry),
			Prefix:        cfg.Install.Prefix,
			OverlayPrefix: cfg.Install.OverlayPrefix,
			Logger:        logger,
		},
		Locker:   locker,
		Logger:   logger,
		Hostname: hostname,
		Forced:   forced,
		NoLock:   noLock,
	}

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		return err
	}

	for _, summary := range result.Installed {
		fmt.Println(summary)
	}
	if result.Failed() {
		for _, installErr := range result.Errors {
			fmt.Fprintf(os.Stderr, "failed: %v\n", installErr)
		}
		return &cli.ExitError{Code: 1}
	}
	return nil
}

// newLocker builds the configured protection-group locker.
func newLocker(cfg *config.Config) (lockdown.Locker, error) {
	switch cfg.Lockdown.Mode {
	case "flags":
		return lockdown.NewFlagLocker(cfg.Lockdown.Groups)
	default:
		return lockdown.NewExecLocker(cfg.Lockdown.LockCommand, cfg.Lockdown.UnlockCommand), nil
	}
}
