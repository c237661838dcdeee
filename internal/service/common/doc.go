// Package common holds helpers shared by several services.
//
// It provides a lightweight gRPC client for the health service with per-call
// timeouts, used by the healthcheck command and the integration tests.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
