// Package manager schedules pipeline runs over a bounded worker pool.
// Tasks are claimed from the queue store in submission order, executed one
// per worker slot, and moved through their lifecycle with progress
// persisted at a bounded rate. A task failure never takes the manager
// down.
package manager
