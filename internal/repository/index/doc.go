// Package index persists the release index document and the per-version
// manifests. Every load is checked against an embedded JSON schema and every
// update is a read-modify-write guarded by an in-process lock plus a
// best-effort RFC 8785 digest comparison against concurrent writers.
package index
