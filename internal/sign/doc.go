// Package sign holds the cryptographic primitives of the release pipeline:
// SHA-256 content digests, API key hashing, the canonical manifest string and
// Ed25519 signing and verification over it.
package sign
