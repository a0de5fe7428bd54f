package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// UserCancelReason is the error message set when a user explicitly cancels a task.
const UserCancelReason = "Cancelled by user"

// DaemonStopReason is the error message set when running tasks are failed due
// to daemon shutdown or a stale record found on startup.
const DaemonStopReason = "Daemon stopped while task was running"

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// Task represents one video transformation run persisted in SQLite.
type Task struct {
	ID              string
	SourcePath      string
	OutputPath      string
	Status          Status
	ProgressPercent float64
	ProgressMessage string
	TotalFrames     int64
	InpaintedFrames int64
	DetectorErrors  int64
	InpaintErrors   int64
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is one of the three terminal states.
func IsTerminal(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// IsTerminal reports whether the task has reached a terminal state.
func (t Task) IsTerminal() bool {
	return IsTerminal(t.Status)
}

// SetProgress updates the progress fields, clamping percent to [0, 100] and
// never letting it regress.
func (t *Task) SetProgress(percent float64, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > t.ProgressPercent {
		t.ProgressPercent = percent
	}
	if message != "" {
		t.ProgressMessage = message
	}
}

// HealthSummary describes aggregated task counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Succeeded int
	Failed    int
	Cancelled int
}
