// Package tracker stabilizes a noisy per-frame detection stream into a
// temporally coherent mask stream. It suppresses isolated false
// positives, smooths region boundary jitter, and fills short detection
// gaps by interpolation, all within a fixed lookahead window so memory
// stays bounded and output is a deterministic function of the input.
package tracker
