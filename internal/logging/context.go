package logging

import (
	"context"
	"log/slog"

	"clearmark/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldTaskID is the standardized structured logging key for task identifiers.
	FieldTaskID = "task_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldEventType is the standardized structured logging key for machine-readable event markers.
	FieldEventType = "event_type"
	// FieldFrameIndex is the standardized structured logging key for frame indices.
	FieldFrameIndex = "frame_index"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := services.TaskIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTaskID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
