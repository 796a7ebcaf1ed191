// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lippard661/distribute/cmd/internal/cli"
	"github.com/lippard661/distribute/lib/config"
	"github.com/lippard661/distribute/lib/secret"
	"github.com/lippard661/distribute/lib/signature"
)

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

// openKeyring builds the trust policy from the configuration.
func openKeyring(cfg *config.Config) (*signature.Keyring, error) {
	ring, err := signature.NewKeyring(cfg.Paths.Keys, cfg.Signer.Domain,
		cfg.Signer.Vendor, cfg.Signer.MinYear, cfg.Signer.MinRelease)
	if err != nil {
		return nil, cli.Validation("%v", err)
	}
	return ring, nil
}

// loadSigner loads a secret signing key, prompting for its passphrase
// only when the key file is actually encrypted. keyName empty means
// the current-year domain key.
func loadSigner(cfg *config.Config, ring *signature.Keyring, keyName string) (*signature.SecretKey, string, error) {
	if keyName == "" {
		keyName = ring.CurrentKeyName(time.Now())
	}
	_, secPath := signature.KeyPaths(cfg.Paths.Keys, keyName)

	key, err := signature.LoadSecretKey(secPath, nil)
	if err == nil {
		return key, keyName, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", cli.NotFound("signing key %s not found (%s)", keyName, secPath)
	}
	if !errors.Is(err, signature.ErrPassphraseRequired) {
		return nil, "", cli.Internal("loading signing key %s: %v", keyName, err)
	}

	passphrase, err := secret.Prompt(fmt.Sprintf("passphrase for %s: ", keyName))
	if err != nil {
		return nil, "", cli.Internal("reading passphrase: %v", err)
	}
	defer passphrase.Close()

	key, err = signature.LoadSecretKey(secPath, passphrase)
	if err != nil {
		return nil, "", cli.Verification("decrypting signing key %s: %v", keyName, err)
	}
	return key, keyName, nil
}
