// Package pipeline binds the frame source, detector, mask tracker,
// inpainter, and frame sink into one per-video transformation. Frames
// flow strictly in order; per-frame model failures degrade to
// pass-through instead of failing the run.
package pipeline
