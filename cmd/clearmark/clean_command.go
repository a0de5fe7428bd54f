package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"clearmark/internal/config"
	"clearmark/internal/logging"
	"clearmark/internal/pipeline"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "clean INPUT",
		Short: "Remove the watermark from a single video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			input, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(input); err != nil {
				return fmt.Errorf("inspect input %q: %w", input, err)
			}

			output := strings.TrimSpace(outputPath)
			if output == "" {
				dir := filepath.Dir(input)
				output = filepath.Join(dir, "cleaned_"+filepath.Base(input))
			} else if output, err = config.ExpandPath(output); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := buildFileLogger(cfg, "clean")
			if err != nil {
				return err
			}

			runner := pipeline.NewRunner(cfg, logger)
			progress := newProgressDisplay(cmd, filepath.Base(input))
			defer progress.finish()

			started := time.Now()
			summary, err := runner.Transform(runCtx, input, output, progress.update)
			if err != nil {
				return err
			}
			progress.finish()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", output)
			fmt.Fprintf(out, "Frames: %d total, %d inpainted", summary.TotalFrames, summary.InpaintedFrames)
			if summary.DetectorErrors > 0 || summary.InpaintErrors > 0 {
				fmt.Fprintf(out, " (%d detector errors, %d inpaint errors)",
					summary.DetectorErrors, summary.InpaintErrors)
			}
			fmt.Fprintf(out, "\nElapsed: %s\n", time.Since(started).Round(time.Second))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: cleaned_<input> next to the input)")
	return cmd
}

// buildFileLogger routes structured logs to a per-run file so interactive
// output stays clean.
func buildFileLogger(cfg *config.Config, command string) (*slog.Logger, error) {
	runID := time.Now().UTC().Format("20060102T150405")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("clearmark-%s-%s.log", command, runID))
	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// progressDisplay renders a terminal progress bar when stdout is a TTY
// and falls back to sparse line output otherwise.
type progressDisplay struct {
	bar      *progressbar.ProgressBar
	cmd      *cobra.Command
	last     int
	finished bool
}

func newProgressDisplay(cmd *cobra.Command, label string) *progressDisplay {
	display := &progressDisplay{cmd: cmd, last: -1}
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		display.bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("Cleaning "+label),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}
	return display
}

func (d *progressDisplay) update(percent int, message string) {
	if d.finished || percent == d.last {
		return
	}
	d.last = percent
	if d.bar != nil {
		_ = d.bar.Set(percent)
		return
	}
	if percent%10 == 0 || percent == 100 {
		fmt.Fprintf(d.cmd.ErrOrStderr(), "%3d%% %s\n", percent, message)
	}
}

func (d *progressDisplay) finish() {
	if d.finished {
		return
	}
	d.finished = true
	if d.bar != nil {
		_ = d.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}
