// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Keyring is the destination-host trust policy: a directory of trusted
// public keys, the signing domain whose key rotates yearly, and an
// optional vendor whose release-numbered package keys are also
// accepted. Key material is only ever loaded from the directory;
// nothing a signature carries can introduce a key.
type Keyring struct {
	dir     string
	domain  string
	vendor  string
	minYear int

	minReleaseMajor int64
	minReleaseMinor int64
	hasReleaseFloor bool

	domainPattern *regexp.Regexp
	vendorPattern *regexp.Regexp
}

// Verification reports which trusted key verified a signature.
type Verification struct {
	// KeyName is the stem of the public key file that verified the
	// signature ("jafde-2026", "openbsd-7.7-pkg").
	KeyName string

	// Fallback is true when the verifying key was not the current-year
	// domain key. Installers log fallback verifications so an operator
	// notices packages still signed with last year's key.
	Fallback bool
}

var releaseFloorPattern = regexp.MustCompile(`^(\d+)\.(\d+)$`)

// NewKeyring builds a trust policy. dir is the trusted public key
// directory and domain the yearly-rotated signing domain; both are
// required. vendor enables <vendor>-<major>.<minor>-pkg keys and may
// be empty. minYear and minRelease set floors below which otherwise
// well-formed key names are rejected; zero and "" disable them.
func NewKeyring(dir, domain, vendor string, minYear int, minRelease string) (*Keyring, error) {
	if dir == "" {
		return nil, fmt.Errorf("keyring directory is required")
	}
	if domain == "" {
		return nil, fmt.Errorf("signing domain is required")
	}

	ring := &Keyring{
		dir:           dir,
		domain:        domain,
		vendor:        vendor,
		minYear:       minYear,
		domainPattern: regexp.MustCompile(`^` + regexp.QuoteMeta(domain) + `-(\d{4})$`),
	}
	if vendor != "" {
		ring.vendorPattern = regexp.MustCompile(`^` + regexp.QuoteMeta(vendor) + `-(\d+)\.(\d+)-pkg$`)
	}

	if minRelease != "" {
		m := releaseFloorPattern.FindStringSubmatch(minRelease)
		if m == nil {
			return nil, fmt.Errorf("minimum release %q is not <major>.<minor>", minRelease)
		}
		ring.minReleaseMajor, _ = strconv.ParseInt(m[1], 10, 64)
		ring.minReleaseMinor, _ = strconv.ParseInt(m[2], 10, 64)
		ring.hasReleaseFloor = true
	}

	return ring, nil
}

// CurrentKeyName returns the domain key name for the year of now.
func (r *Keyring) CurrentKeyName(now time.Time) string {
	return fmt.Sprintf("%s-%d", r.domain, now.Year())
}

// Allowed reports whether a claimed key name matches an accepted
// pattern and clears the configured floors. Names that match neither
// the domain-year nor the vendor-release shape are rejected outright,
// whatever files happen to exist in the key directory.
func (r *Keyring) Allowed(keyName string) bool {
	if m := r.domainPattern.FindStringSubmatch(keyName); m != nil {
		year, _ := strconv.Atoi(m[1])
		return r.minYear == 0 || year >= r.minYear
	}

	if r.vendorPattern != nil {
		if m := r.vendorPattern.FindStringSubmatch(keyName); m != nil {
			if !r.hasReleaseFloor {
				return true
			}
			major, _ := strconv.ParseInt(m[1], 10, 64)
			minor, _ := strconv.ParseInt(m[2], 10, 64)
			if major != r.minReleaseMajor {
				return major > r.minReleaseMajor
			}
			return minor >= r.minReleaseMinor
		}
	}

	return false
}

// Load reads a trusted public key by name from the key directory.
func (r *Keyring) Load(keyName string) (*PublicKey, error) {
	return LoadPublicKey(filepath.Join(r.dir, keyName+".pub"))
}

// VerifyFile verifies a detached signature using the current wall
// clock. See VerifyFileAt.
func (r *Keyring) VerifyFile(messagePath, sigPath string) (*Verification, error) {
	return r.VerifyFileAt(messagePath, sigPath, time.Now())
}

// VerifyFileAt verifies the detached signature at sigPath over the
// file at messagePath against the trust policy, with the clock
// supplied for key-rotation decisions.
//
// The current-year domain key is tried first. When the signature was
// made by a different keypair, the key named in its comment is tried
// instead, provided the name passes Allowed and its public key exists
// in the trusted directory. A signature whose key matches but fails
// cryptographic verification is ErrInvalidSignature with no fallback:
// trying other keys after tampering is how downgrade tricks start.
func (r *Keyring) VerifyFileAt(messagePath, sigPath string, now time.Time) (*Verification, error) {
	sig, err := LoadSignature(sigPath)
	if err != nil {
		return nil, err
	}
	message, err := os.ReadFile(messagePath)
	if err != nil {
		return nil, fmt.Errorf("reading signed file: %w", err)
	}

	// Phase one: the current-year domain key. A missing key file is
	// tolerated here so hosts mid-rotation can still verify packages
	// signed by an allowed fallback key.
	currentName := r.CurrentKeyName(now)
	current, currentErr := r.Load(currentName)
	if currentErr == nil {
		result := current.Verify(message, sig)
		if result.Valid {
			return &Verification{KeyName: currentName}, nil
		}
		if result.KeyMatched {
			return nil, fmt.Errorf("%s: %w", messagePath, ErrInvalidSignature)
		}
	}

	// Phase two: the key the signature claims.
	claimed := sig.KeyHint()
	if claimed == "" || claimed == currentName {
		if currentErr != nil {
			return nil, fmt.Errorf("loading signing key %s: %w", currentName, currentErr)
		}
		return nil, fmt.Errorf("signature for %s was not made by %s and names no usable fallback key", messagePath, currentName)
	}
	if !r.Allowed(claimed) {
		return nil, fmt.Errorf("signature for %s claims key %q, which is not an accepted signing key", messagePath, claimed)
	}

	fallback, err := r.Load(claimed)
	if err != nil {
		return nil, fmt.Errorf("loading fallback key %s: %w", claimed, err)
	}
	result := fallback.Verify(message, sig)
	if !result.KeyMatched {
		return nil, fmt.Errorf("signature for %s claims key %s but was not made by it", messagePath, claimed)
	}
	if !result.Valid {
		return nil, fmt.Errorf("%s: %w", messagePath, ErrInvalidSignature)
	}
	return &Verification{KeyName: claimed, Fallback: true}, nil
}
