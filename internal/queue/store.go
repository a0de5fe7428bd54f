package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"clearmark/internal/config"
)

// Store manages task persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the task database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "tasks.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the task database location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// NewTask inserts a freshly submitted task in the queued state and assigns
// its identifier.
func (s *Store) NewTask(ctx context.Context, sourcePath, outputPath string) (*Task, error) {
	if sourcePath == "" {
		return nil, errors.New("source path is required")
	}
	if outputPath == "" {
		return nil, errors.New("output path is required")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (
            id, source_path, output_path, status, progress_percent,
            progress_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		sourcePath,
		outputPath,
		StatusQueued,
		0.0,
		nil,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a task by identifier. Returns nil when unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Update persists changes to an existing task.
func (s *Store) Update(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	task.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET source_path = ?, output_path = ?, status = ?, progress_percent = ?,
             progress_message = ?, total_frames = ?, inpainted_frames = ?,
             detector_errors = ?, inpaint_errors = ?, error_message = ?,
             updated_at = ?, started_at = ?, finished_at = ?
         WHERE id = ?`,
		task.SourcePath,
		task.OutputPath,
		task.Status,
		task.ProgressPercent,
		nullableString(task.ProgressMessage),
		task.TotalFrames,
		task.InpaintedFrames,
		task.DetectorErrors,
		task.InpaintErrors,
		nullableString(task.ErrorMessage),
		task.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(task.StartedAt),
		nullableTime(task.FinishedAt),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// UpdateProgress persists only the progress and counter fields of a task.
// Readers always observe a complete row; the single UPDATE keeps status
// transitions atomic with respect to concurrent GetByID calls.
func (s *Store) UpdateProgress(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	task.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET progress_percent = ?, progress_message = ?, total_frames = ?,
             inpainted_frames = ?, detector_errors = ?, inpaint_errors = ?,
             updated_at = ?
         WHERE id = ?`,
		task.ProgressPercent,
		nullableString(task.ProgressMessage),
		task.TotalFrames,
		task.InpaintedFrames,
		task.DetectorErrors,
		task.InpaintErrors,
		task.UpdatedAt.Format(time.RFC3339Nano),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

// MarkRunning transitions a queued task to running. Returns nil when
// another worker claimed the task first or it was cancelled while queued;
// the conditional UPDATE is what makes claims race free across workers.
func (s *Store) MarkRunning(ctx context.Context, id string) (*Task, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusRunning,
		now,
		now,
		id,
		StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

// CancelQueued transitions a queued task straight to cancelled. Returns
// false when the task already left the queued state.
func (s *Store) CancelQueued(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = ?, error_message = ?, finished_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusCancelled,
		UserCancelReason,
		now,
		now,
		id,
		StatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("cancel queued task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// NextQueued returns the oldest queued task in submission order, or nil when
// the queue is empty.
func (s *Store) NextQueued(ctx context.Context) (*Task, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, rowid LIMIT 1`,
		StatusQueued,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// List returns tasks filtered by status set (or all tasks when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`
	orderClause := ` ORDER BY created_at, rowid`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ResetStuckRunning fails tasks left in the running state by a previous
// process. Called once on daemon startup before workers begin.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET status = ?, error_message = ?, progress_message = NULL,
             finished_at = ?, updated_at = ?
         WHERE status = ?`,
		StatusFailed,
		DaemonStopReason,
		now,
		now,
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates task state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusRunning:
			health.Running += count
		case StatusSucceeded:
			health.Succeeded += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// Remove deletes a task by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearTerminal removes all tasks that reached a terminal state.
func (s *Store) ClearTerminal(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM tasks WHERE status IN (?, ?, ?)`,
		StatusSucceeded,
		StatusFailed,
		StatusCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("clear terminal tasks: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all tasks.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks`)
	if err != nil {
		return 0, fmt.Errorf("clear tasks: %w", err)
	}
	return res.RowsAffected()
}

const taskColumns = "id, source_path, output_path, status, progress_percent, progress_message, total_frames, inpainted_frames, detector_errors, inpaint_errors, error_message, created_at, updated_at, started_at, finished_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id              string
		sourcePath      string
		outputPath      string
		statusStr       string
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		totalFrames     sql.NullInt64
		inpaintedFrames sql.NullInt64
		detectorErrors  sql.NullInt64
		inpaintErrors   sql.NullInt64
		errorMessage    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		startedRaw      sql.NullString
		finishedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourcePath,
		&outputPath,
		&statusStr,
		&progressPercent,
		&progressMessage,
		&totalFrames,
		&inpaintedFrames,
		&detectorErrors,
		&inpaintErrors,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:              id,
		SourcePath:      sourcePath,
		OutputPath:      outputPath,
		Status:          Status(statusStr),
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		TotalFrames:     totalFrames.Int64,
		InpaintedFrames: inpaintedFrames.Int64,
		DetectorErrors:  detectorErrors.Int64,
		InpaintErrors:   inpaintErrors.Int64,
		ErrorMessage:    errorMessage.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			task.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			task.FinishedAt = &finished
		}
	}
	return task, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
