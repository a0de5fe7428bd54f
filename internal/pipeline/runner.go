package pipeline

import (
	"context"
	"log/slog"
	"time"

	"clearmark/internal/config"
	"clearmark/internal/detect"
	"clearmark/internal/infer"
	"clearmark/internal/inpaint"
	"clearmark/internal/logging"
	"clearmark/internal/media"
	"clearmark/internal/queue"
	"clearmark/internal/services"
	"clearmark/internal/tracker"
)

// Runner builds and executes full pipelines from configuration. Each run
// probes the input, spawns its own model workers, and streams frames
// through ffmpeg pipes.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewRunner constructs a runner bound to the given configuration.
func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// TrackerParams maps the config section onto tracker tuning.
func TrackerParams(cfg *config.Config) tracker.Params {
	return tracker.Params{
		Window:      cfg.Tracker.Window,
		Corroborate: cfg.Tracker.Corroborate,
		Smooth:      cfg.Tracker.Smooth,
		Padding:     cfg.Tracker.Padding,
	}
}

// Run executes the transformation for one task. Satisfies the task
// manager's run contract.
func (r *Runner) Run(ctx context.Context, task *queue.Task, progress ProgressFunc) (Summary, error) {
	return r.Transform(ctx, task.SourcePath, task.OutputPath, progress)
}

// Transform runs the detect, track, inpaint, reassemble flow for a single
// video file.
func (r *Runner) Transform(ctx context.Context, sourcePath, outputPath string, progress ProgressFunc) (Summary, error) {
	info, err := media.Inspect(ctx, r.cfg.FFprobeBinary(), sourcePath)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrExternalTool, "pipeline", "probe", sourcePath, err)
	}

	detectWorker, err := infer.Spawn(ctx, r.cfg.Detector.Command, r.cfg.Detector.Script,
		time.Duration(r.cfg.Detector.StartupTimeout)*time.Second)
	if err != nil {
		return Summary{}, err
	}
	defer detectWorker.Close()

	inpaintWorker, err := infer.Spawn(ctx, r.cfg.Inpainter.Command, r.cfg.Inpainter.Script,
		time.Duration(r.cfg.Inpainter.StartupTimeout)*time.Second)
	if err != nil {
		return Summary{}, err
	}
	defer inpaintWorker.Close()

	detector := detect.NewWorkerDetector(detectWorker, info.Width, info.Height, r.cfg.Detector.Confidence)
	inpainter := inpaint.NewWorkerInpainter(inpaintWorker, info.Width, info.Height)

	p, err := New(detector, inpainter, TrackerParams(r.cfg), r.logger)
	if err != nil {
		return Summary{}, err
	}

	source, err := media.OpenSource(ctx, r.cfg.FFmpegBinary(), info)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrExternalTool, "pipeline", "decode", sourcePath, err)
	}

	sink, err := media.OpenSink(ctx, r.cfg.FFmpegBinary(), info, outputPath)
	if err != nil {
		_ = source.Close()
		return Summary{}, services.Wrap(services.ErrExternalTool, "pipeline", "encode", outputPath, err)
	}

	r.logger.Info("pipeline starting",
		logging.String("source", sourcePath),
		logging.String("output", outputPath),
		logging.Int("width", info.Width),
		logging.Int("height", info.Height),
		logging.Int64("frames", info.TotalFrames),
	)

	return p.Run(ctx, source, sink, progress)
}
