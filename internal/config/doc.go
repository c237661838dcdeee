// Package config defines the settings of the release server and the
// self-update client and provides helpers to load, validate and save them.
//
// Server settings are layered: built-in defaults, then an optional YAML file,
// then deployment environment variables (STORAGE_BACKEND, DATA_DIR, API_KEY, ...).
package config
