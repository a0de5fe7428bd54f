package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"clearmark/internal/batch"
	"clearmark/internal/config"
	"clearmark/internal/manager"
	"clearmark/internal/pipeline"
	"clearmark/internal/queue"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var pattern string
	var workers int
	var quiet bool

	cmd := &cobra.Command{
		Use:   "batch INPUT_DIR",
		Short: "Clean every matching video file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Workers.Count = workers
			}

			inputDir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			outDir := outputDir
			if outDir == "" {
				outDir = inputDir
			} else if outDir, err = config.ExpandPath(outDir); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := buildFileLogger(cfg, "batch")
			if err != nil {
				return err
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			defer store.Close()

			runner := pipeline.NewRunner(cfg, logger)
			mgr, err := manager.New(cfg, store, logger, runner.Run)
			if err != nil {
				return err
			}
			if err := mgr.Start(runCtx); err != nil {
				return err
			}
			defer mgr.Stop()

			observer := newBatchObserver(cmd, quiet)
			result, err := batch.Run(runCtx, mgr, logger, batch.Options{
				InputDir:  inputDir,
				OutputDir: outDir,
				Pattern:   pattern,
				Observe:   observer.observe,
			})
			observer.finish()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return &exitError{code: 130, message: "batch interrupted"}
				}
				return err
			}

			renderBatchSummary(cmd, result)
			if result.Failed > 0 || result.Cancelled > 0 {
				return &exitError{code: 2}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for cleaned files (default: the input directory)")
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "*.mp4", "Glob pattern, one {a,b} group allowed")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent task limit (default: from config)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

// batchObserver aggregates per-file progress samples into one display: a
// progress bar on a TTY, sparse lines otherwise, nothing when quiet.
type batchObserver struct {
	cmd *cobra.Command
	bar *progressbar.ProgressBar

	mu       sync.Mutex
	quiet    bool
	percents map[string]float64
	last     time.Time
	done     bool
}

func newBatchObserver(cmd *cobra.Command, quiet bool) *batchObserver {
	observer := &batchObserver{
		cmd:      cmd,
		quiet:    quiet,
		percents: make(map[string]float64),
	}
	if !quiet && (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) {
		observer.bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("Cleaning batch"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}
	return observer
}

func (o *batchObserver) observe(inputPath string, task *queue.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done || o.quiet {
		return
	}
	o.percents[inputPath] = task.ProgressPercent

	var sum float64
	for _, pct := range o.percents {
		sum += pct
	}
	overall := sum / float64(len(o.percents))

	if o.bar != nil {
		_ = o.bar.Set(int(overall))
		return
	}
	if time.Since(o.last) < 2*time.Second {
		return
	}
	o.last = time.Now()
	fmt.Fprintf(o.cmd.ErrOrStderr(), "progress: %.0f%% across %d files\n",
		overall, len(o.percents))
}

func (o *batchObserver) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return
	}
	o.done = true
	if o.bar != nil {
		_ = o.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

func renderBatchSummary(cmd *cobra.Command, result batch.Result) {
	out := cmd.OutOrStdout()
	title := cases.Title(language.English)

	rows := make([][]string, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		detail := truncate(outcome.Error, 72)
		if outcome.Status == queue.StatusSucceeded {
			detail = outcome.Output
		}
		rows = append(rows, []string{
			filepath.Base(outcome.Input),
			title.String(string(outcome.Status)),
			detail,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"File", "Status", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft},
	))

	total := len(result.Outcomes)
	rate := 0.0
	if total > 0 {
		rate = float64(result.Succeeded) / float64(total) * 100
	}
	fmt.Fprintf(out, "%d/%d succeeded (%.0f%%), %d failed, %d cancelled in %s\n",
		result.Succeeded, total, rate, result.Failed, result.Cancelled,
		result.Elapsed.Round(time.Second))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
