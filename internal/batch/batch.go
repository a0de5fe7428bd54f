package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clearmark/internal/logging"
	"clearmark/internal/queue"
)

// Runner is the slice of the task manager the orchestrator needs.
type Runner interface {
	Submit(ctx context.Context, sourcePath, outputPath string) (string, error)
	Status(ctx context.Context, id string) (*queue.Task, error)
}

// Options selects the batch inputs and controls observation.
type Options struct {
	InputDir  string
	OutputDir string
	Pattern   string
	// PollInterval bounds how often each file's status is sampled.
	// Zero means a sensible default.
	PollInterval time.Duration
	// Observe, when set, receives every sampled task view per file. Used
	// by the CLI to drive progress bars.
	Observe func(inputPath string, task *queue.Task)
}

// FileOutcome records the terminal state of one submitted file.
type FileOutcome struct {
	Input  string
	Output string
	TaskID string
	Status queue.Status
	Error  string
}

// Result aggregates a finished batch.
type Result struct {
	Outcomes  []FileOutcome
	Succeeded int
	Failed    int
	Cancelled int
	Elapsed   time.Duration
}

// Failures returns the outcomes that did not succeed.
func (r Result) Failures() []FileOutcome {
	var failed []FileOutcome
	for _, outcome := range r.Outcomes {
		if outcome.Status != queue.StatusSucceeded {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// Run enumerates matching files, submits every one up front, and waits
// for all of them to reach a terminal state.
func Run(ctx context.Context, runner Runner, logger *slog.Logger, opts Options) (Result, error) {
	start := time.Now()
	if logger == nil {
		logger = logging.NewNop()
	}
	if info, err := os.Stat(opts.InputDir); err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("input directory %s: %w", opts.InputDir, errOrNotDir(err))
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output directory: %w", err)
	}

	files, err := Enumerate(opts.InputDir, opts.Pattern)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{}, fmt.Errorf("no files matching %q under %s", opts.Pattern, opts.InputDir)
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	logger.Info("batch starting",
		logging.Int("files", len(files)),
		logging.String("pattern", opts.Pattern),
	)

	type submission struct {
		input  string
		output string
		taskID string
	}
	submissions := make([]submission, 0, len(files))
	result := Result{}
	for _, input := range files {
		output := OutputName(opts.OutputDir, input)
		taskID, err := runner.Submit(ctx, input, output)
		if err != nil {
			// Submission trouble for one file stays contained to that file.
			result.Outcomes = append(result.Outcomes, FileOutcome{
				Input:  input,
				Output: output,
				Status: queue.StatusFailed,
				Error:  err.Error(),
			})
			result.Failed++
			logger.Error("batch submit failed",
				logging.String("input", input),
				logging.Error(err),
			)
			continue
		}
		submissions = append(submissions, submission{input: input, output: output, taskID: taskID})
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	for _, sub := range submissions {
		sub := sub
		group.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				task, err := runner.Status(groupCtx, sub.taskID)
				if err != nil {
					return fmt.Errorf("status of %s: %w", sub.input, err)
				}
				if opts.Observe != nil {
					opts.Observe(sub.input, task)
				}
				if task.IsTerminal() {
					mu.Lock()
					result.Outcomes = append(result.Outcomes, FileOutcome{
						Input:  sub.input,
						Output: sub.output,
						TaskID: sub.taskID,
						Status: task.Status,
						Error:  task.ErrorMessage,
					})
					switch task.Status {
					case queue.StatusSucceeded:
						result.Succeeded++
					case queue.StatusCancelled:
						result.Cancelled++
					default:
						result.Failed++
					}
					mu.Unlock()
					return nil
				}
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				case <-ticker.C:
				}
			}
		})
	}

	if err := group.Wait(); err != nil {
		return result, err
	}

	result.Elapsed = time.Since(start)
	logger.Info("batch finished",
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
		logging.Int("cancelled", result.Cancelled),
		logging.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

func errOrNotDir(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("not a directory")
}
