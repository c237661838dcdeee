// Package health exposes the standard grpc.health.v1 service for the release
// server so orchestrators can probe it without speaking HTTP.
package health
