// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lippard661/distribute/lib/secret"
)

func testKeypair(t *testing.T, name string) *Keypair {
	t.Helper()
	keypair, err := Generate(name)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func testPassphrase(t *testing.T, phrase string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(phrase))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestSignAndVerify(t *testing.T) {
	keypair := testKeypair(t, "jafde-2026")

	message := []byte("package list contents\n")
	sig := keypair.Secret.Sign(message, "jafde-2026")

	if sig.Comment != "verify with jafde-2026.pub" {
		t.Errorf("signature comment = %q", sig.Comment)
	}
	if sig.KeyHint() != "jafde-2026" {
		t.Errorf("KeyHint() = %q, want jafde-2026", sig.KeyHint())
	}

	result := keypair.Public.Verify(message, sig)
	if !result.KeyMatched {
		t.Error("KeyMatched = false, want true")
	}
	if !result.Valid {
		t.Error("Valid = false, want true")
	}
	if result.ClaimedKey != "jafde-2026" {
		t.Errorf("ClaimedKey = %q, want jafde-2026", result.ClaimedKey)
	}
}

func TestSignRepeatedly(t *testing.T) {
	// Signing must not disturb the mmap-backed key material: a run
	// signs one file per host, reusing the same loaded key.
	keypair := testKeypair(t, "jafde-2026")

	for i, message := range [][]byte{
		[]byte("first bundle\n"),
		[]byte("second bundle\n"),
		[]byte("third bundle\n"),
	} {
		sig := keypair.Secret.Sign(message, "jafde-2026")
		if result := keypair.Public.Verify(message, sig); !result.Valid {
			t.Fatalf("signature %d did not verify", i)
		}
	}
}

func TestVerify_TamperedMessage(t *testing.T) {
	keypair := testKeypair(t, "jafde-2026")

	message := []byte("original contents")
	sig := keypair.Secret.Sign(message, "jafde-2026")

	result := keypair.Public.Verify([]byte("altered contents"), sig)
	if !result.KeyMatched {
		t.Error("KeyMatched = false, want true (same key ID)")
	}
	if result.Valid {
		t.Error("Valid = true for tampered message")
	}
}

func TestVerify_WrongKey(t *testing.T) {
	signer := testKeypair(t, "jafde-2025")
	verifier := testKeypair(t, "jafde-2026")

	message := []byte("contents")
	sig := signer.Secret.Sign(message, "jafde-2025")

	result := verifier.Public.Verify(message, sig)
	if result.KeyMatched {
		t.Error("KeyMatched = true across distinct keypairs")
	}
	if result.Valid {
		t.Error("Valid = true across distinct keypairs")
	}
	if result.ClaimedKey != "jafde-2025" {
		t.Errorf("ClaimedKey = %q, want jafde-2025", result.ClaimedKey)
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	keypair := testKeypair(t, "jafde-2026")

	encoded := keypair.Public.Encode()
	if !bytes.HasPrefix(encoded, []byte("untrusted comment: jafde-2026 public key\n")) {
		t.Fatalf("unexpected public key encoding:\n%s", encoded)
	}

	parsed, err := ParsePublicKey(encoded)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if parsed.ID != keypair.Public.ID {
		t.Errorf("key ID %s, want %s", parsed.ID, keypair.Public.ID)
	}
	if !bytes.Equal(parsed.Key, keypair.Public.Key) {
		t.Error("public key bytes differ after round trip")
	}
}

func TestParsePublicKey_Malformed(t *testing.T) {
	for name, data := range map[string]string{
		"empty":          "",
		"no comment":     "jafde public key\nQWJjZA==\n",
		"one line":       "untrusted comment: x\n",
		"bad base64":     "untrusted comment: x\nnot-base64!!!\n",
		"trailing junk":  "untrusted comment: x\nQWJjZA==\nextra\n",
		"short blob":     "untrusted comment: x\nQWJjZA==\n",
		"wrong marker":   "untrusted comment: x\n" + "WFhY" + strings.Repeat("A", 52) + "\n",
		"comment too":    "untrusted comment: " + strings.Repeat("c", 2000) + "\nQWJjZA==\n",
		"secret for pub": "untrusted comment: x\n" + strings.Repeat("QUJD", 25) + "\n",
	} {
		if _, err := ParsePublicKey([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	keypair := testKeypair(t, "jafde-2026")
	sig := keypair.Secret.Sign([]byte("msg"), "jafde-2026")

	parsed, err := ParseSignature(sig.Encode())
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if parsed.ID != sig.ID {
		t.Errorf("key ID %s, want %s", parsed.ID, sig.ID)
	}
	if parsed.Signature != sig.Signature {
		t.Error("signature bytes differ after round trip")
	}
	if parsed.Comment != sig.Comment {
		t.Errorf("comment %q, want %q", parsed.Comment, sig.Comment)
	}
}

func TestKeyHint(t *testing.T) {
	cases := []struct {
		comment string
		want    string
	}{
		{"verify with jafde-2026.pub", "jafde-2026"},
		{"verify with openbsd-7.7-pkg.pub", "openbsd-7.7-pkg"},
		{"signed by somebody", ""},
		{"verify with .pub", ""},
		{"verify with jafde-2026", ""},
		{"verify with ../escape.pub", ""},
		{"verify with two words.pub", ""},
		{"", ""},
	}
	for _, tc := range cases {
		sig := &Signature{Comment: tc.comment}
		if got := sig.KeyHint(); got != tc.want {
			t.Errorf("KeyHint(%q) = %q, want %q", tc.comment, got, tc.want)
		}
	}
}

func TestSecretKeyRoundTrip_Unencrypted(t *testing.T) {
	keypair := testKeypair(t, "jafde-2026")

	encoded, err := keypair.Secret.EncodeSecret(nil)
	if err != nil {
		t.Fatalf("EncodeSecret: %v", err)
	}

	loaded, err := ParseSecretKey(encoded, nil)
	if err != nil {
		t.Fatalf("ParseSecretKey: %v", err)
	}
	defer loaded.Close()

	if loaded.ID != keypair.Secret.ID {
		t.Errorf("key ID %s, want %s", loaded.ID, keypair.Secret.ID)
	}

	// The reloaded key must produce signatures the public key accepts.
	message := []byte("signed after reload")
	result := keypair.Public.Verify(message, loaded.Sign(message, "jafde-2026"))
	if !result.Valid {
		t.Error("signature from reloaded key did not verify")
	}
}

func TestSecretKeyRoundTrip_Encrypted(t *testing.T) {
	keypair := testKeypair(t, "jafde-2026")
	passphrase := testPassphrase(t, "correct horse")

	encoded, err := keypair.Secret.EncodeSecret(passphrase)
	if err != nil {
		t.Fatalf("EncodeSecret: %v", err)
	}

	// Without a passphrase the encrypted key must refuse to load.
	if _, err := ParseSecretKey(encoded, nil); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("ParseSecretKey without passphrase: %v, want ErrPassphraseRequired", err)
	}

	// A wrong passphrase must fail, not yield a garbage key.
	wrong := testPassphrase(t, "wrong battery staple")
	if _, err := ParseSecretKey(encoded, wrong); err == nil {
		t.Fatal("ParseSecretKey with wrong passphrase: expected error")
	}

	rightPassphrase := testPassphrase(t, "correct horse")
	loaded, err := ParseSecretKey(encoded, rightPassphrase)
	if err != nil {
		t.Fatalf("ParseSecretKey: %v", err)
	}
	defer loaded.Close()

	message := []byte("signed after encrypted reload")
	result := keypair.Public.Verify(message, loaded.Sign(message, "jafde-2026"))
	if !result.Valid {
		t.Error("signature from reloaded key did not verify")
	}
}

func TestSaveAndLoadKeypair(t *testing.T) {
	dir := t.TempDir()
	keypair := testKeypair(t, "jafde-2026")

	if err := keypair.Save(dir, "jafde-2026", nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	pubPath, secPath := KeyPaths(dir, "jafde-2026")
	assertFileMode(t, secPath, 0600)
	assertFileMode(t, pubPath, 0644)

	public, err := LoadPublicKey(pubPath)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	secretKey, err := LoadSecretKey(secPath, nil)
	if err != nil {
		t.Fatalf("LoadSecretKey: %v", err)
	}
	defer secretKey.Close()

	message := []byte("contents")
	if result := public.Verify(message, secretKey.Sign(message, "jafde-2026")); !result.Valid {
		t.Error("loaded keypair does not round-trip a signature")
	}

	// A second Save over the same name must refuse.
	if err := keypair.Save(dir, "jafde-2026", nil); err == nil {
		t.Error("Save over existing key files: expected error")
	}
}

func TestSignFileAndVerifyFile(t *testing.T) {
	dir := t.TempDir()
	keypair := testKeypair(t, "jafde-2026")

	messagePath := filepath.Join(dir, "host-list.txt")
	if err := os.WriteFile(messagePath, []byte("one.tgz\ntwo.tgz\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := SignFile(keypair.Secret, "jafde-2026", messagePath); err != nil {
		t.Fatalf("SignFile: %v", err)
	}

	result, err := VerifyFile(keypair.Public, messagePath, SigPath(messagePath))
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if !result.Valid {
		t.Error("Valid = false for freshly signed file")
	}

	// Modifying the signed file must invalidate the signature.
	if err := os.WriteFile(messagePath, []byte("one.tgz\nevil.tgz\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	result, err = VerifyFile(keypair.Public, messagePath, SigPath(messagePath))
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if result.Valid {
		t.Error("Valid = true after file modification")
	}
}

func assertFileMode(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat(%s): %v", path, err)
	}
	if info.Mode().Perm() != want {
		t.Errorf("%s mode = %o, want %o", path, info.Mode().Perm(), want)
	}
}
