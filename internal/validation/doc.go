// Package validation implements the independent upload checks run before a
// release is published: artifact filename, size, gzip magic bytes, semantic
// version grammar, version eligibility against the index and file count.
package validation
