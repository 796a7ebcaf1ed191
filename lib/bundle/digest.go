// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte keyed BLAKE3 digest of a bundle file's bytes as
// written to disk. Recorded in the pool index and the audit trail.
type Digest [32]byte

// digestDomainKey is the BLAKE3 key for the bundle digest domain.
// Fixed constant; changing it invalidates all recorded digests. The
// bytes are the ASCII domain name zero-padded to 32, which keeps the
// key readable in hex dumps without weakening keyed hashing.
var digestDomainKey = [32]byte{
	'd', 'i', 's', 't', 'r', 'i', 'b', 'u', 't', 'e', '.',
	'b', 'u', 'n', 'd', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// String returns the canonical hex form used in logs and the pool
// index.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses the 64-character hex form.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing bundle digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("bundle digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// newHasher returns a keyed hasher for the bundle domain.
func newHasher() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(digestDomainKey[:])
	if err != nil {
		// NewKeyed fails only on wrong key length, which the fixed
		// array rules out.
		panic("bundle: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

// DigestFile computes the digest of an existing bundle file.
func DigestFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer file.Close()

	hasher := newHasher()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}
