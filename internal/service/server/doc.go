// Package server runs the release server process: it loads settings, opens
// the storage backend, wires repositories and services into the HTTP router,
// serves the optional gRPC health listener and shuts everything down
// gracefully when the context is canceled.
package server
