// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package signature implements the Ed25519 detached-signature format
// used by distribute for package groups and signed file lists.
//
// # File format
//
// Key and signature files are two-line text files in the style of
// signify(1): an "untrusted comment:" line followed by a base64 blob.
// The blob begins with the two-byte algorithm marker "Ed" and an
// eight-byte key ID chosen at key generation, then the key or
// signature material:
//
//	public key  "Ed" || key ID || 32-byte Ed25519 public key
//	secret key  "Ed" || key ID || 64-byte Ed25519 private key
//	signature   "Ed" || key ID || 64-byte Ed25519 signature
//
// A secret key may instead be stored encrypted: the base64 blob is
// then an age scrypt ciphertext of the plain secret blob, recognized
// on load by the age format header. An unencrypted secret key is what
// you get from an empty passphrase.
//
// The key ID ties a signature to the keypair that produced it without
// revealing anything about the key. [PublicKey.Verify] reports a key
// ID mismatch as a non-matching [VerifyResult] rather than an error,
// so callers can fall back to the key the signature claims
// ([Signature.KeyHint]) without parsing error strings.
//
// # Key rotation
//
// [Keyring] implements the trust policy for a destination host: a
// directory of trusted public keys, a signing domain whose key rotates
// yearly (<domain>-<year>), and an allowance for vendor package keys
// (<vendor>-<major>.<minor>-pkg). Verification first tries the
// current-year domain key, then falls back to the key named in the
// signature's comment, provided that name matches an allowed pattern,
// meets the configured floor, and exists in the trusted directory.
// Key material never comes from the signature itself.
//
// Private keys are held in [secret.Buffer] mmap memory (locked against
// swap, excluded from core dumps, zeroed on close).
package signature
