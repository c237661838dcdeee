package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gowebpki/jcs"
)

// FingerprintLength is the number of hex characters of a key digest used as its fingerprint.
const FingerprintLength = 8

// APIKeyBytes is the entropy of a generated API key.
const APIKeyBytes = 32

var (
	errPublicKeyLength = errors.New("invalid public key length")
	errSignatureLength = errors.New("invalid signature length")
)

// KeyPair is an Ed25519 key pair.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// HashAPIKey returns the stored form of a raw API key.
func HashAPIKey(key string) string {
	return SHA256Hex([]byte(key))
}

// Fingerprint shortens a key digest for logs, audit entries and rate-limit buckets.
func Fingerprint(keyHash string) string {
	if len(keyHash) <= FingerprintLength {
		return keyHash
	}

	return keyHash[:FingerprintLength]
}

// VerifyAPIKey hashes the presented key and compares it to storedHash in constant time.
func VerifyAPIKey(presented, storedHash string) bool {
	if storedHash == "" {
		return false
	}

	got := HashAPIKey(presented)

	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

// GenerateAPIKey returns a new random hex key and its hash.
func GenerateAPIKey() (key, keyHash string, err error) {
	raw := make([]byte, APIKeyBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("read random key: %w", err)
	}

	key = hex.EncodeToString(raw)

	return key, HashAPIKey(key), nil
}

// CanonicalManifest renders "{version}|{pub_date}|" followed by the sorted
// "{platform}:{sha256}" entries joined with "|".
func CanonicalManifest(version, pubDate string, digests map[string]string) string {
	platforms := slices.Sorted(maps.Keys(digests))

	entries := make([]string, 0, len(platforms))
	for _, platform := range platforms {
		entries = append(entries, platform+":"+digests[platform])
	}

	return version + "|" + pubDate + "|" + strings.Join(entries, "|")
}

// GenerateKeyPair creates a new Ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}

	return KeyPair{Public: pub, Private: priv}, nil
}

// EncodePublicKey renders a public key as standard base64.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// ParsePublicKeyBase64 decodes a standard base64 Ed25519 public key.
func ParsePublicKeyBase64(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}

	if l := len(raw); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %d", errPublicKeyLength, l)
	}

	return ed25519.PublicKey(raw), nil
}

// Sign signs message and returns the base64 signature.
func Sign(priv ed25519.PrivateKey, message string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(message)))
}

// Verify checks a base64 signature over message with a base64 public key.
// Any malformed input yields false.
func Verify(message, signatureBase64, publicKeyBase64 string) bool {
	ok, err := VerifyDetailed(message, signatureBase64, publicKeyBase64)

	return err == nil && ok
}

// VerifyDetailed is Verify with the decoding failure exposed for logging.
func VerifyDetailed(message, signatureBase64, publicKeyBase64 string) (bool, error) {
	pub, err := ParsePublicKeyBase64(publicKeyBase64)
	if err != nil {
		return false, err
	}

	rawSig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureBase64))
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	if l := len(rawSig); l != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: %d", errSignatureLength, l)
	}

	return ed25519.Verify(pub, []byte(message), rawSig), nil
}

// DigestJCS canonicalizes JSON (RFC 8785) and returns its SHA-256 hex digest.
func DigestJCS(input []byte) (string, error) {
	canonical, err := jcs.Transform(input)
	if err != nil {
		return "", fmt.Errorf("canonicalize json: %w", err)
	}

	return SHA256Hex(canonical), nil
}
