// Package config loads, normalizes, and validates the TOML configuration that
// drives the clearmark daemon and CLI. All tunables the pipeline exposes
// (tracker window, worker pool size, model worker commands) live here so
// behavior can be adjusted without code changes.
package config
