// Package packager prepares release artifacts for publication.
//
// It packs a built executable for each platform into a
// "{name}-{os}-{arch}.tar.gz" archive that passes the server's upload checks,
// and reports the sha256 digest of each archive so the publisher can sign the
// canonical manifest.
package packager
