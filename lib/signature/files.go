// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lippard661/distribute/lib/secret"
)

// SigPath returns the conventional detached-signature path for a file.
func SigPath(path string) string {
	return path + ".sig"
}

// KeyPaths returns the public and secret key file paths for a key name
// within a directory.
func KeyPaths(dir, name string) (pubPath, secPath string) {
	return filepath.Join(dir, name+".pub"), filepath.Join(dir, name+".sec")
}

// Save writes the keypair to <dir>/<name>.pub and <dir>/<name>.sec.
// The secret key file has 0600 permissions; the public key file has
// 0644. With a non-nil, non-empty passphrase the secret key is stored
// age-encrypted. Refuses to overwrite an existing key file: losing a
// signing key to a typo would orphan every signature it made.
func (kp *Keypair) Save(dir, name string, passphrase *secret.Buffer) error {
	pubPath, secPath := KeyPaths(dir, name)
	for _, path := range []string{pubPath, secPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("key file %s already exists", path)
		}
	}

	secretData, err := kp.Secret.EncodeSecret(passphrase)
	if err != nil {
		return fmt.Errorf("encoding secret key: %w", err)
	}
	if err := os.WriteFile(secPath, secretData, 0600); err != nil {
		return fmt.Errorf("writing secret key: %w", err)
	}

	if err := os.WriteFile(pubPath, kp.Public.Encode(), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadPublicKey reads and parses a public key file.
func LoadPublicKey(path string) (*PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	key, err := ParsePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// LoadSecretKey reads and parses a secret key file, decrypting with
// the passphrase when the key is stored encrypted. Returns
// ErrPassphraseRequired when the key is encrypted and passphrase is
// nil. The caller must Close the returned key.
func LoadSecretKey(path string, passphrase *secret.Buffer) (*SecretKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret key: %w", err)
	}
	key, err := ParseSecretKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// LoadSignature reads and parses a detached signature file.
func LoadSignature(path string) (*Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signature: %w", err)
	}
	sig, err := ParseSignature(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sig, nil
}

// SignFile signs the file at messagePath and writes the detached
// signature next to it (messagePath + ".sig"). keyName is embedded in
// the signature comment so verifiers know which public key to fetch.
func SignFile(key *SecretKey, keyName, messagePath string) error {
	message, err := os.ReadFile(messagePath)
	if err != nil {
		return fmt.Errorf("reading file to sign: %w", err)
	}

	sig := key.Sign(message, keyName)
	sigPath := SigPath(messagePath)
	if err := os.WriteFile(sigPath, sig.Encode(), 0644); err != nil {
		return fmt.Errorf("writing signature: %w", err)
	}
	return nil
}

// VerifyFile verifies the detached signature at sigPath over the file
// at messagePath. I/O and parse failures are errors; a key ID mismatch
// or invalid signature is reported in the result.
func VerifyFile(pub *PublicKey, messagePath, sigPath string) (VerifyResult, error) {
	sig, err := LoadSignature(sigPath)
	if err != nil {
		return VerifyResult{}, err
	}
	message, err := os.ReadFile(messagePath)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("reading signed file: %w", err)
	}
	return pub.Verify(message, sig), nil
}
