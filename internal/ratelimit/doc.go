// Package ratelimit implements fixed-window request limiting for the HTTP API.
//
// Each key (a client address or an API key fingerprint) owns a counter that
// starts with the first request and resets once its window elapses. Windows
// live in process memory by default; a Redis store shares them between
// instances. Bursts at window boundaries are possible and accepted.
package ratelimit
