// Package detect locates the watermark region in individual frames. The
// default detector delegates to an external model worker; the interface
// allows fakes in tests.
package detect
