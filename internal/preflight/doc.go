// Package preflight runs environment checks before the daemon accepts
// work: directory access, free disk space, and external tool
// availability.
package preflight
