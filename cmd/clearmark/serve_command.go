package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clearmark/internal/daemon"
	"clearmark/internal/logging"
	"clearmark/internal/manager"
	"clearmark/internal/pipeline"
	"clearmark/internal/queue"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the clearmark daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runID := time.Now().UTC().Format("20060102T150405")
			logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("clearmarkd-%s.log", runID))
			logger, err := logging.New(logging.Options{
				Level:            cfg.Logging.Level,
				Format:           cfg.Logging.Format,
				OutputPaths:      []string{"stdout", logPath},
				ErrorOutputPaths: []string{"stderr", logPath},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			pidPath := filepath.Join(cfg.Paths.LogDir, "clearmarkd.pid")
			if err := writePIDFile(pidPath); err != nil {
				return fmt.Errorf("write pid file: %w", err)
			}
			defer os.Remove(pidPath)

			store, err := queue.Open(cfg)
			if err != nil {
				logger.Error("open task store", logging.Error(err))
				return err
			}
			defer store.Close()

			runner := pipeline.NewRunner(cfg, logger)
			mgr, err := manager.New(cfg, store, logger, runner.Run)
			if err != nil {
				return err
			}

			d, err := daemon.New(cfg, store, logger, mgr)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			if err := d.Start(signalCtx); err != nil {
				return err
			}
			if addr := d.APIAddr(); addr != "" {
				logger.Info("api available", logging.String("address", addr))
			}

			<-signalCtx.Done()
			logger.Info("clearmark daemon shutting down")
			return nil
		},
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
