// Package services holds cross-cutting helpers shared by pipeline stages and
// the task manager: the error taxonomy used to classify failures into terminal
// task statuses, and context annotations that let loggers tag output with task
// identifiers without threading them through every call.
package services
