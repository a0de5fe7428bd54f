// Package inpaint synthesizes replacement content for masked frame
// regions. The default implementation delegates to an external model
// worker; the interface allows fakes in tests.
package inpaint
