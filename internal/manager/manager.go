package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"clearmark/internal/config"
	"clearmark/internal/logging"
	"clearmark/internal/pipeline"
	"clearmark/internal/queue"
	"clearmark/internal/services"
)

// RunFunc executes the transformation for one claimed task. The progress
// callback may be invoked at any rate; the manager bounds persistence
// itself.
type RunFunc func(ctx context.Context, task *queue.Task, progress pipeline.ProgressFunc) (pipeline.Summary, error)

// Manager owns the task lifecycle: submission, claiming, execution,
// cancellation, and terminal-state persistence.
type Manager struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	run    RunFunc

	pollInterval     time.Duration
	progressInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  map[string]*activeTask
}

type activeTask struct {
	cancel        context.CancelFunc
	userCancelled bool
}

// New constructs a manager. run is invoked once per claimed task.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, run RunFunc) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("manager requires config")
	}
	if store == nil {
		return nil, errors.New("manager requires a task store")
	}
	if run == nil {
		return nil, errors.New("manager requires a run function")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:              cfg,
		store:            store,
		logger:           logger,
		run:              run,
		pollInterval:     time.Duration(cfg.Workers.PollInterval) * time.Second,
		progressInterval: time.Duration(cfg.Workers.ProgressInterval) * time.Millisecond,
		active:           make(map[string]*activeTask),
	}, nil
}

// Start launches the worker pool. Worker count caps how many tasks run
// concurrently; everything else stays queued in FIFO order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("manager already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	workers := m.cfg.Workers.Count
	if workers < 1 {
		workers = 1
	}
	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	m.logger.Info("task manager started", logging.Int("workers", workers))
	return nil
}

// Stop cancels all running tasks and waits for the workers to exit.
// Interrupted tasks are marked failed with a daemon-stop reason.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("task manager stopped")
}

// Submit registers a new queued task and returns its identifier without
// waiting for processing.
func (m *Manager) Submit(ctx context.Context, sourcePath, outputPath string) (string, error) {
	task, err := m.store.NewTask(ctx, sourcePath, outputPath)
	if err != nil {
		return "", err
	}
	m.logger.Info("task submitted",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("source", sourcePath),
	)
	return task.ID, nil
}

// Status returns the current view of a task.
func (m *Manager) Status(ctx context.Context, id string) (*queue.Task, error) {
	task, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "manager", "status", fmt.Sprintf("task %s", id), nil)
	}
	return task, nil
}

// Result returns the output path once a task has succeeded.
func (m *Manager) Result(ctx context.Context, id string) (string, error) {
	task, err := m.Status(ctx, id)
	if err != nil {
		return "", err
	}
	if task.Status != queue.StatusSucceeded {
		return "", services.Wrap(services.ErrNotReady, "manager", "result",
			fmt.Sprintf("task %s is %s", id, task.Status), nil)
	}
	return task.OutputPath, nil
}

// Cancel requests cooperative cancellation. Queued tasks cancel in place;
// running tasks observe the cancellation at the next frame boundary.
// Cancelling an already terminal task is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	task, err := m.Status(ctx, id)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return nil
	}

	if task.Status == queue.StatusQueued {
		cancelled, err := m.store.CancelQueued(ctx, id)
		if err != nil {
			return err
		}
		if cancelled {
			m.logger.Info("queued task cancelled", logging.String(logging.FieldTaskID, id))
			return nil
		}
		// Claimed between the read and the update; fall through to the
		// running path.
	}

	m.mu.Lock()
	entry := m.active[id]
	if entry != nil {
		entry.userCancelled = true
	}
	m.mu.Unlock()

	if entry == nil {
		// Running in the store but not in this process: a stale record,
		// cleaned up on the next daemon start.
		return services.Wrap(services.ErrValidation, "manager", "cancel",
			fmt.Sprintf("task %s is not owned by this process", id), nil)
	}
	entry.cancel()
	m.logger.Info("cancellation requested", logging.String(logging.FieldTaskID, id))
	return nil
}

// Wait blocks until the task reaches a terminal state.
func (m *Manager) Wait(ctx context.Context, id string) (*queue.Task, error) {
	ticker := time.NewTicker(m.waitInterval())
	defer ticker.Stop()
	for {
		task, err := m.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) waitInterval() time.Duration {
	if m.progressInterval > 0 {
		return m.progressInterval
	}
	return 250 * time.Millisecond
}

func (m *Manager) runWorker(ctx context.Context, slot int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", slot))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		next, err := m.store.NextQueued(ctx)
		if err != nil {
			logger.Error("failed to fetch next task", logging.Error(err))
			m.sleep(ctx)
			continue
		}
		if next == nil {
			m.sleep(ctx)
			continue
		}

		task, err := m.store.MarkRunning(ctx, next.ID)
		if err != nil {
			logger.Error("failed to claim task", logging.Error(err))
			m.sleep(ctx)
			continue
		}
		if task == nil {
			// Another worker claimed it first.
			continue
		}

		m.processTask(ctx, logger, task)
	}
}

func (m *Manager) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) processTask(ctx context.Context, logger *slog.Logger, task *queue.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entry := &activeTask{cancel: cancel}
	m.mu.Lock()
	m.active[task.ID] = entry
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, task.ID)
		m.mu.Unlock()
	}()

	taskCtx = services.WithTaskID(taskCtx, task.ID)
	logger = logger.With(logging.String(logging.FieldTaskID, task.ID))
	logger.Info("task started", logging.String("source", task.SourcePath))

	summary, runErr := m.invoke(taskCtx, task, logger)

	finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finishCancel()

	task.TotalFrames = summary.TotalFrames
	task.InpaintedFrames = summary.InpaintedFrames
	task.DetectorErrors = summary.DetectorErrors
	task.InpaintErrors = summary.InpaintErrors

	now := time.Now().UTC()
	task.FinishedAt = &now

	switch {
	case runErr == nil:
		task.Status = queue.StatusSucceeded
		task.SetProgress(100, "complete")
		logger.Info("task succeeded",
			logging.Int64("frames", summary.TotalFrames),
			logging.Int64("inpainted", summary.InpaintedFrames),
			logging.Duration("elapsed", summary.Elapsed),
		)
	case m.userCancelled(entry) && errors.Is(runErr, context.Canceled):
		task.Status = queue.StatusCancelled
		task.ErrorMessage = queue.UserCancelReason
		logger.Info("task cancelled")
	case errors.Is(runErr, context.Canceled):
		task.Status = queue.StatusFailed
		task.ErrorMessage = queue.DaemonStopReason
		logger.Warn("task interrupted by shutdown")
	default:
		task.Status = services.FailureStatus(runErr)
		task.ErrorMessage = runErr.Error()
		logger.Error("task failed", logging.Error(runErr))
	}

	if err := m.store.Update(finishCtx, task); err != nil {
		logger.Error("failed to persist terminal state", logging.Error(err))
	}
}

// invoke runs the pipeline with panic containment and bounded-rate
// progress persistence.
func (m *Manager) invoke(ctx context.Context, task *queue.Task, logger *slog.Logger) (summary pipeline.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
			logger.Error("pipeline panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()

	var progressMu sync.Mutex
	lastPersist := time.Time{}

	progress := func(percent int, message string) {
		progressMu.Lock()
		defer progressMu.Unlock()

		task.SetProgress(float64(percent), message)
		if time.Since(lastPersist) < m.progressInterval && percent < 100 {
			return
		}
		lastPersist = time.Now()
		if err := m.store.UpdateProgress(ctx, task); err != nil && ctx.Err() == nil {
			logger.Warn("failed to persist progress", logging.Error(err))
		}
	}

	return m.run(ctx, task, progress)
}

func (m *Manager) userCancelled(entry *activeTask) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return entry.userCancelled
}
