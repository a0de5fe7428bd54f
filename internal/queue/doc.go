// Package queue persists task records in SQLite and defines the task
// lifecycle the manager drives. Each task is one end-to-end video
// transformation: queued at submission, running while a worker owns it, and
// terminal in exactly one of succeeded, failed, or cancelled. Records survive
// daemon restarts; tasks stuck in running are failed on startup.
package queue
