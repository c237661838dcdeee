// Package release defines the release distribution domain model: the release
// index, per-platform artifacts, the public latest manifest, download stats,
// server metadata, semantic version precedence and the error kinds shared by
// every layer of the server.
package release
