// Package admin resolves the active API and signing keys and implements the
// authenticated administration operations: key rotation, public key
// registration, audit log paging and download statistics.
//
// Keys stored in the server record take precedence over the process
// configuration, so a rotated API key survives restarts.
package admin
