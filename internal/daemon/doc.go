// Package daemon runs the background service: single-instance locking,
// startup recovery of stale tasks, the worker pool, and the HTTP API
// surface.
package daemon
