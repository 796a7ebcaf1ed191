// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/lippard661/distribute/lib/secret"
)

const (
	// commentHeader starts the first line of every key and signature
	// file. The comment is not covered by any signature, hence the name.
	commentHeader = "untrusted comment: "

	// algorithmMarker prefixes every binary blob. Only Ed25519 is
	// supported; the marker keeps the format open to replacement.
	algorithmMarker = "Ed"

	// KeyIDSize is the length of the random key identifier embedded in
	// key and signature blobs.
	KeyIDSize = 8

	// maxCommentLength bounds the untrusted comment line.
	maxCommentLength = 1024
)

// ageHeaderPrefix identifies an age-encrypted secret key blob after
// base64 decoding. The age binary format opens with its version line.
var ageHeaderPrefix = []byte("age-encryption.org/")

var (
	// ErrInvalidSignature is returned when a signature's key ID matches
	// the verifying key but the Ed25519 verification fails. This means
	// the signed content was altered or the signature was forged; there
	// is no fallback.
	ErrInvalidSignature = errors.New("signature: cryptographic verification failed")

	// ErrPassphraseRequired is returned by LoadSecretKey when the key
	// file is encrypted and no passphrase was supplied.
	ErrPassphraseRequired = errors.New("signature: secret key is encrypted and requires a passphrase")
)

// KeyID identifies a keypair. It is chosen at random during key
// generation and embedded in the public key, the secret key, and every
// signature the key produces.
type KeyID [KeyIDSize]byte

// String returns the key ID as lowercase hex for log output.
func (id KeyID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// PublicKey is a parsed public key file.
type PublicKey struct {
	// Comment is the untrusted comment line, without its header.
	Comment string

	// ID is the eight-byte key identifier.
	ID KeyID

	// Key is the Ed25519 public key.
	Key ed25519.PublicKey
}

// SecretKey is a loaded private key. The key material lives in
// mmap-backed memory; call Close when done signing.
type SecretKey struct {
	// Comment is the untrusted comment line, without its header.
	Comment string

	// ID is the eight-byte key identifier.
	ID KeyID

	key *secret.Buffer
}

// Close releases the private key memory. Idempotent.
func (k *SecretKey) Close() error {
	if k.key != nil {
		return k.key.Close()
	}
	return nil
}

// Sign signs the message and returns a detached signature carrying the
// key's ID and a comment directing verifiers at keyName's public key
// file.
func (k *SecretKey) Sign(message []byte, keyName string) *Signature {
	// crypto/ed25519 retains internal references to the private key's
	// backing array, which must be ordinary heap memory, not the mmap
	// buffer. Sign with a short-lived heap copy and zero it.
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(priv, k.key.Bytes())
	raw := ed25519.Sign(priv, message)
	for i := range priv {
		priv[i] = 0
	}

	sig := &Signature{
		Comment: fmt.Sprintf("verify with %s.pub", keyName),
		ID:      k.ID,
	}
	copy(sig.Signature[:], raw)
	return sig
}

// Signature is a parsed detached signature file.
type Signature struct {
	// Comment is the untrusted comment line, without its header. For
	// signatures produced by this package it has the form
	// "verify with <keyname>.pub".
	Comment string

	// ID is the key identifier of the signing keypair.
	ID KeyID

	// Signature is the Ed25519 signature.
	Signature [ed25519.SignatureSize]byte
}

// KeyHint returns the key name the signature's comment claims to be
// verifiable with, or "" when the comment does not follow the
// "verify with <keyname>.pub" convention. The hint is untrusted input:
// callers must resolve it against a trusted key directory, never
// against key material supplied alongside the signature.
func (s *Signature) KeyHint() string {
	rest, ok := strings.CutPrefix(s.Comment, "verify with ")
	if !ok {
		return ""
	}
	name, ok := strings.CutSuffix(rest, ".pub")
	if !ok || name == "" || strings.ContainsAny(name, "/ \t") {
		return ""
	}
	return name
}

// VerifyResult reports the outcome of verifying one signature against
// one public key. A key ID mismatch is an expected condition during
// key rotation, not an error: the zero result (nothing matched) lets
// the caller move on to a fallback key.
type VerifyResult struct {
	// KeyMatched is true when the signature was produced by a keypair
	// with the same key ID as the verifying public key.
	KeyMatched bool

	// Valid is true when KeyMatched and the Ed25519 signature verifies
	// over the message.
	Valid bool

	// ClaimedKey is the key name from the signature's comment (see
	// [Signature.KeyHint]). It is populated regardless of match so
	// callers with a non-matching result know which trusted key to try
	// next.
	ClaimedKey string
}

// Verify checks the signature over message. It never returns an error:
// inspect the result's KeyMatched and Valid fields.
func (p *PublicKey) Verify(message []byte, sig *Signature) VerifyResult {
	result := VerifyResult{ClaimedKey: sig.KeyHint()}
	if sig.ID != p.ID {
		return result
	}
	result.KeyMatched = true
	result.Valid = ed25519.Verify(p.Key, message, sig.Signature[:])
	return result
}

// Keypair is a freshly generated signing keypair, not yet written to
// disk. Call Close when done; Save does not close.
type Keypair struct {
	Public *PublicKey
	Secret *SecretKey
}

// Close releases the secret key memory.
func (kp *Keypair) Close() error {
	if kp.Secret != nil {
		return kp.Secret.Close()
	}
	return nil
}

// Generate creates a new Ed25519 keypair with a random key ID. The
// name becomes part of the untrusted comments ("<name> public key",
// "<name> secret key") and is conventionally the file stem the pair
// will be saved under.
func Generate(name string) (*Keypair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}

	var id KeyID
	if _, err := rand.Read(id[:]); err != nil {
		return nil, fmt.Errorf("generating key ID: %w", err)
	}

	keyBuffer, err := secret.NewFromBytes(private)
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		Public: &PublicKey{
			Comment: fmt.Sprintf("%s public key", name),
			ID:      id,
			Key:     public,
		},
		Secret: &SecretKey{
			Comment: fmt.Sprintf("%s secret key", name),
			ID:      id,
			key:     keyBuffer,
		},
	}, nil
}

// encodeFile renders the two-line comment-plus-base64 file format.
func encodeFile(comment string, blob []byte) []byte {
	var out bytes.Buffer
	out.WriteString(commentHeader)
	out.WriteString(comment)
	out.WriteByte('\n')
	out.WriteString(base64.StdEncoding.EncodeToString(blob))
	out.WriteByte('\n')
	return out.Bytes()
}

// parseFile splits the two-line file format into its untrusted comment
// and decoded blob. Anything after the second line is rejected so a
// signature file cannot smuggle trailing content.
func parseFile(data []byte) (comment string, blob []byte, err error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		return "", nil, fmt.Errorf("want 2 lines, have %d", len(lines))
	}

	comment, ok := strings.CutPrefix(lines[0], commentHeader)
	if !ok {
		return "", nil, fmt.Errorf("first line does not start with %q", commentHeader)
	}
	if len(comment) > maxCommentLength {
		return "", nil, fmt.Errorf("comment exceeds %d bytes", maxCommentLength)
	}

	blob, err = base64.StdEncoding.DecodeString(lines[1])
	if err != nil {
		return "", nil, fmt.Errorf("decoding base64 blob: %w", err)
	}
	return comment, blob, nil
}

// encodeBlob prefixes key or signature material with the algorithm
// marker and key ID.
func encodeBlob(id KeyID, material []byte) []byte {
	blob := make([]byte, 0, len(algorithmMarker)+KeyIDSize+len(material))
	blob = append(blob, algorithmMarker...)
	blob = append(blob, id[:]...)
	return append(blob, material...)
}

// parseBlob splits a decoded blob into key ID and material, checking
// the algorithm marker and the expected material length.
func parseBlob(blob []byte, materialSize int) (KeyID, []byte, error) {
	wantLength := len(algorithmMarker) + KeyIDSize + materialSize
	if len(blob) != wantLength {
		return KeyID{}, nil, fmt.Errorf("blob has %d bytes, want %d", len(blob), wantLength)
	}
	if !bytes.HasPrefix(blob, []byte(algorithmMarker)) {
		return KeyID{}, nil, fmt.Errorf("unsupported algorithm marker %q", blob[:len(algorithmMarker)])
	}

	var id KeyID
	copy(id[:], blob[len(algorithmMarker):])
	return id, blob[len(algorithmMarker)+KeyIDSize:], nil
}

// ParsePublicKey parses the contents of a public key file.
func ParsePublicKey(data []byte) (*PublicKey, error) {
	comment, blob, err := parseFile(data)
	if err != nil {
		return nil, fmt.Errorf("parsing public key file: %w", err)
	}
	id, material, err := parseBlob(blob, ed25519.PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("parsing public key blob: %w", err)
	}
	return &PublicKey{
		Comment: comment,
		ID:      id,
		Key:     ed25519.PublicKey(material),
	}, nil
}

// Encode renders the public key in file format.
func (p *PublicKey) Encode() []byte {
	return encodeFile(p.Comment, encodeBlob(p.ID, p.Key))
}

// ParseSignature parses the contents of a detached signature file.
func ParseSignature(data []byte) (*Signature, error) {
	comment, blob, err := parseFile(data)
	if err != nil {
		return nil, fmt.Errorf("parsing signature file: %w", err)
	}
	id, material, err := parseBlob(blob, ed25519.SignatureSize)
	if err != nil {
		return nil, fmt.Errorf("parsing signature blob: %w", err)
	}

	sig := &Signature{Comment: comment, ID: id}
	copy(sig.Signature[:], material)
	return sig, nil
}

// Encode renders the signature in file format.
func (s *Signature) Encode() []byte {
	return encodeFile(s.Comment, encodeBlob(s.ID, s.Signature[:]))
}

// ParseSecretKey parses the contents of a secret key file, decrypting
// with the passphrase when the blob is age-encrypted. A nil passphrase
// is accepted only for unencrypted keys.
func ParseSecretKey(data []byte, passphrase *secret.Buffer) (*SecretKey, error) {
	comment, blob, err := parseFile(data)
	if err != nil {
		return nil, fmt.Errorf("parsing secret key file: %w", err)
	}

	if bytes.HasPrefix(blob, ageHeaderPrefix) {
		if passphrase == nil {
			return nil, ErrPassphraseRequired
		}
		blob, err = decryptSecretBlob(blob, passphrase)
		if err != nil {
			return nil, err
		}
	}

	id, material, err := parseBlob(blob, ed25519.PrivateKeySize)
	if err != nil {
		secret.Zero(blob)
		return nil, fmt.Errorf("parsing secret key blob: %w", err)
	}

	keyBuffer, err := secret.NewFromBytes(material)
	// material aliases blob; zero the prefix bytes NewFromBytes did not cover.
	secret.Zero(blob)
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &SecretKey{
		Comment: comment,
		ID:      id,
		key:     keyBuffer,
	}, nil
}

// EncodeSecret renders the secret key in file format. With a non-nil,
// non-empty passphrase the blob is age-encrypted under an scrypt
// recipient; otherwise it is stored plain.
func (k *SecretKey) EncodeSecret(passphrase *secret.Buffer) ([]byte, error) {
	blob := encodeBlob(k.ID, k.key.Bytes())

	if passphrase != nil && passphrase.Len() > 0 {
		encrypted, err := encryptSecretBlob(blob, passphrase)
		secret.Zero(blob)
		if err != nil {
			return nil, err
		}
		return encodeFile(k.Comment, encrypted), nil
	}

	encoded := encodeFile(k.Comment, blob)
	secret.Zero(blob)
	return encoded, nil
}

// encryptSecretBlob seals the secret blob under a passphrase-derived
// age scrypt recipient.
func encryptSecretBlob(blob []byte, passphrase *secret.Buffer) ([]byte, error) {
	// age requires a string passphrase. The heap copy is brief and
	// call-scoped; the mmap buffer remains the durable copy.
	recipient, err := age.NewScryptRecipient(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(blob); err != nil {
		return nil, fmt.Errorf("encrypting secret key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing secret key encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// decryptSecretBlob opens an age scrypt ciphertext with the passphrase.
func decryptSecretBlob(ciphertext []byte, passphrase *secret.Buffer) ([]byte, error) {
	identity, err := age.NewScryptIdentity(passphrase.String())
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting secret key (wrong passphrase?): %w", err)
	}
	blob, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted secret key: %w", err)
	}
	return blob, nil
}
