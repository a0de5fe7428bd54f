// Package main hosts the clearmark CLI entrypoint and command graph.
//
// The Cobra-based command tree covers one-shot cleaning, directory batches,
// running the daemon in the foreground, and queue inspection over the
// daemon's HTTP API. It centralizes configuration resolution and structured
// logging setup so subcommands can focus on user experience instead of
// wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
