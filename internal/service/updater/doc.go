// Package updater is the self-update client of the release server.
//
// It fetches the public latest.json manifest, verifies its Ed25519 signature
// over the canonical manifest string, downloads the artifact of the current
// platform, checks its sha256 digest, extracts the configured executable from
// the tar.gz archive and atomically replaces the target binary.
package updater
