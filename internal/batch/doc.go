// Package batch submits one task per matching input file and aggregates
// per-file outcomes. One file failing never aborts the rest of the batch.
package batch
