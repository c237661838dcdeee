// Package releases implements the release lifecycle: publishing signed
// uploads, listing and deprecating versions, resolving the latest manifest
// and serving artifact downloads.
//
// Publishing verifies the Ed25519 signature over a manifest rebuilt from the
// uploaded bytes before anything is written, so a rejected upload leaves no
// trace in storage.
package releases
