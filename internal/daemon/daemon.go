package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"clearmark/internal/config"
	"clearmark/internal/logging"
	"clearmark/internal/manager"
	"clearmark/internal/preflight"
	"clearmark/internal/queue"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	manager *manager.Manager

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Queue        queue.HealthSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, mgr *manager.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, and task manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "clearmarkd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  mgr,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, fails over stale running tasks, and
// launches the worker pool and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another clearmark daemon instance is already running")
	}

	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}

	reset, err := d.store.ResetStuckRunning(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stale tasks: %w", err)
	}
	if reset > 0 {
		d.logger.Warn("failed tasks left running by a previous daemon", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start task manager: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.manager.Stop()
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("clearmark daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.api != nil {
		d.api.stop()
	}
	d.manager.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("clearmark daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, empty until started.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("queue health unavailable", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		Queue:        health,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
}
