// Package stats persists download records, trimmed to the most recent ones.
package stats
