// Package infer manages long-lived model worker processes. A worker is a
// Python subprocess spoken to over a length-prefixed pipe protocol: each
// request and response is a JSON header followed by an optional raw pixel
// payload. Model internals stay inside the worker; this package only moves
// bytes.
package infer
