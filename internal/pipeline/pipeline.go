package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"clearmark/internal/detect"
	"clearmark/internal/inpaint"
	"clearmark/internal/logging"
	"clearmark/internal/media"
	"clearmark/internal/services"
	"clearmark/internal/tracker"
)

// FrameSource yields decoded frames in presentation order until io.EOF.
type FrameSource interface {
	Info() media.VideoInfo
	Next() (media.Frame, error)
	Close() error
}

// FrameSink accepts output frames in order. Finalize makes the output
// visible; Discard removes any partial output.
type FrameSink interface {
	Write(media.Frame) error
	Finalize() error
	Discard()
}

// ProgressFunc receives integer percentages, monotonic and capped at 99
// until the sink finalizes.
type ProgressFunc func(percent int, message string)

// Summary describes one completed run.
type Summary struct {
	TotalFrames     int64
	InpaintedFrames int64
	DetectorErrors  int64
	InpaintErrors   int64
	Elapsed         time.Duration
}

// Pipeline transforms one video. Safe for sequential reuse, not for
// concurrent Run calls.
type Pipeline struct {
	detector  detect.Detector
	inpainter inpaint.Inpainter
	params    tracker.Params
	logger    *slog.Logger
}

// New assembles a pipeline around the given collaborators.
func New(detector detect.Detector, inpainter inpaint.Inpainter, params tracker.Params, logger *slog.Logger) (*Pipeline, error) {
	if detector == nil {
		return nil, errors.New("pipeline requires a detector")
	}
	if inpainter == nil {
		return nil, errors.New("pipeline requires an inpainter")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{detector: detector, inpainter: inpainter, params: params, logger: logger}, nil
}

// Run drains the source through detection, tracking, and inpainting into
// the sink. Cancellation is observed at frame boundaries; on any error
// the sink's partial output is discarded.
func (p *Pipeline) Run(ctx context.Context, source FrameSource, sink FrameSink, progress ProgressFunc) (Summary, error) {
	start := time.Now()
	info := source.Info()
	sampler := logging.NewProgressSampler(5)

	track, err := tracker.New(p.params, info.Width, info.Height)
	if err != nil {
		sink.Discard()
		return Summary{}, err
	}

	summary := Summary{}
	// Frames the tracker is still holding a lookahead over, in order.
	held := make([]media.Frame, 0, p.params.Window+1)
	lastPercent := -1

	report := func(message string) {
		if progress == nil || info.TotalFrames <= 0 {
			return
		}
		percent := int(summary.TotalFrames * 100 / info.TotalFrames)
		if percent > 99 {
			percent = 99
		}
		if percent > lastPercent {
			lastPercent = percent
			progress(percent, message)
		}
	}

	emit := func(mask tracker.Mask) error {
		if len(held) == 0 {
			return fmt.Errorf("mask for frame %d with no held frame", mask.Index)
		}
		frame := held[0]
		held = held[1:]
		if frame.Index != mask.Index {
			return fmt.Errorf("mask for frame %d applied to frame %d", mask.Index, frame.Index)
		}

		out := frame
		if !mask.Empty() {
			painted, inpaintErr := p.inpainter.Inpaint(ctx, frame, mask.Region)
			switch {
			case inpaintErr == nil:
				out = media.Frame{Index: frame.Index, Data: painted}
				summary.InpaintedFrames++
			case errors.Is(inpaintErr, context.Canceled), errors.Is(inpaintErr, context.DeadlineExceeded):
				return inpaintErr
			default:
				// One frame's inpaint failure never fails the run.
				summary.InpaintErrors++
				p.logger.Warn("inpaint failed, emitting original frame",
					logging.Int64("frame", frame.Index),
					logging.Error(inpaintErr),
				)
			}
		}
		if err := sink.Write(out); err != nil {
			return services.Wrap(services.ErrExternalTool, "pipeline", "encode", "write frame", err)
		}
		summary.TotalFrames++
		report("processing frames")
		if sampler.ShouldLog(float64(lastPercent), "processing") {
			p.logger.Info("pipeline progress",
				logging.Int("percent", lastPercent),
				logging.Int64("frames", summary.TotalFrames),
			)
		}
		return nil
	}

	runErr := func() error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			frame, err := source.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return services.Wrap(services.ErrExternalTool, "pipeline", "decode", "read frame", err)
			}

			detection, detErr := p.detector.Detect(ctx, frame)
			if detErr != nil {
				if errors.Is(detErr, context.Canceled) || errors.Is(detErr, context.DeadlineExceeded) {
					return detErr
				}
				// Detector trouble on one frame degrades to no detection.
				summary.DetectorErrors++
				detection = nil
				p.logger.Warn("detector failed, treating frame as clean",
					logging.Int64("frame", frame.Index),
					logging.Error(detErr),
				)
			}

			held = append(held, frame)
			for _, mask := range track.Push(detection) {
				if err := emit(mask); err != nil {
					return err
				}
			}
		}

		for _, mask := range track.Flush() {
			if err := emit(mask); err != nil {
				return err
			}
		}
		return nil
	}()

	closeErr := source.Close()

	if runErr != nil {
		sink.Discard()
		return Summary{}, runErr
	}
	if closeErr != nil {
		sink.Discard()
		return Summary{}, services.Wrap(services.ErrExternalTool, "pipeline", "decode", "close source", closeErr)
	}

	if err := sink.Finalize(); err != nil {
		return Summary{}, services.Wrap(services.ErrExternalTool, "pipeline", "encode", "finalize output", err)
	}
	if progress != nil {
		progress(100, "complete")
	}

	summary.Elapsed = time.Since(start)
	return summary, nil
}
