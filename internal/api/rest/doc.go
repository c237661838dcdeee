// Package rest is the HTTP transport of the release server, built on gin.
//
// Public routes serve the latest manifest and artifact downloads. Routes
// under /api require a bearer API key and pass, in order, through
// authentication, rate limiting keyed by the key fingerprint, and the audit
// trail for mutating requests.
package rest
