package services

import "context"

type contextKey string

const (
	taskIDKey contextKey = "task_id"
	stageKey  contextKey = "stage"
)

// WithTaskID annotates context with the task identifier.
func WithTaskID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskIDFromContext extracts the task identifier if present.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(taskIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
