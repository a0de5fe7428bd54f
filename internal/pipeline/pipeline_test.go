package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"clearmark/internal/detect"
	"clearmark/internal/logging"
	"clearmark/internal/media"
	"clearmark/internal/tracker"
)

const (
	testWidth  = 8
	testHeight = 4
)

func frameBytes(index int64) []byte {
	data := make([]byte, testWidth*testHeight*3)
	for i := range data {
		data[i] = byte(int64(i) + index)
	}
	return data
}

type fakeSource struct {
	total int64
	next  int64
}

func (s *fakeSource) Info() media.VideoInfo {
	return media.VideoInfo{
		Path:        "memory",
		Width:       testWidth,
		Height:      testHeight,
		FrameRate:   30,
		TotalFrames: s.total,
		HasAudio:    true,
	}
}

func (s *fakeSource) Next() (media.Frame, error) {
	if s.next >= s.total {
		return media.Frame{}, io.EOF
	}
	frame := media.Frame{Index: s.next, Data: frameBytes(s.next)}
	s.next++
	return frame, nil
}

func (s *fakeSource) Close() error { return nil }

type fakeSink struct {
	frames    []media.Frame
	finalized bool
	discarded bool
}

func (s *fakeSink) Write(frame media.Frame) error {
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) Finalize() error {
	s.finalized = true
	return nil
}

func (s *fakeSink) Discard() {
	s.discarded = true
}

// scriptedDetector reports a fixed region for frame indexes the script
// marks true and can inject one failure.
type scriptedDetector struct {
	region  detect.Rect
	active  func(index int64) bool
	failAt  int64
	failSet bool
}

func (d *scriptedDetector) Detect(_ context.Context, frame media.Frame) (*detect.Detection, error) {
	if d.failSet && frame.Index == d.failAt {
		return nil, errors.New("injected detector failure")
	}
	if d.active != nil && d.active(frame.Index) {
		return &detect.Detection{Region: d.region, Confidence: 0.9}, nil
	}
	return nil, nil
}

type markingInpainter struct {
	failAt  int64
	failSet bool
	calls   int64
}

func (p *markingInpainter) Inpaint(_ context.Context, frame media.Frame, _ detect.Rect) ([]byte, error) {
	p.calls++
	if p.failSet && frame.Index == p.failAt {
		return nil, errors.New("injected inpaint failure")
	}
	out := make([]byte, len(frame.Data))
	for i := range out {
		out[i] = ^frame.Data[i]
	}
	return out, nil
}

func testTrackerParams() tracker.Params {
	return tracker.Params{Window: 12, Corroborate: 1, Smooth: 5, Padding: 0}
}

func newTestPipeline(t *testing.T, detector detect.Detector, inpainter *markingInpainter) *Pipeline {
	t.Helper()
	p, err := New(detector, inpainter, testTrackerParams(), logging.NewNop())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestRunPreservesFrameCountWithoutDetections(t *testing.T) {
	source := &fakeSource{total: 60}
	sink := &fakeSink{}
	inpainter := &markingInpainter{}
	p := newTestPipeline(t, &scriptedDetector{}, inpainter)

	summary, err := p.Run(context.Background(), source, sink, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.TotalFrames != 60 || len(sink.frames) != 60 {
		t.Fatalf("frame count: summary %d, sink %d", summary.TotalFrames, len(sink.frames))
	}
	if summary.InpaintedFrames != 0 || inpainter.calls != 0 {
		t.Fatalf("clean video should not be inpainted (summary %d, calls %d)", summary.InpaintedFrames, inpainter.calls)
	}
	if !sink.finalized {
		t.Fatal("sink not finalized")
	}
	for i, frame := range sink.frames {
		if frame.Index != int64(i) {
			t.Fatalf("frame %d emitted with index %d", i, frame.Index)
		}
		if !bytes.Equal(frame.Data, frameBytes(int64(i))) {
			t.Fatalf("pass-through frame %d not byte-identical", i)
		}
	}
}

func TestRunWatermarkedSpan(t *testing.T) {
	source := &fakeSource{total: 300}
	sink := &fakeSink{}
	inpainter := &markingInpainter{}
	detector := &scriptedDetector{
		region: detect.Rect{X: 2, Y: 1, W: 3, H: 2},
		active: func(index int64) bool { return index >= 50 && index <= 250 },
	}
	p := newTestPipeline(t, detector, inpainter)

	summary, err := p.Run(context.Background(), source, sink, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.TotalFrames != 300 || len(sink.frames) != 300 {
		t.Fatalf("frame count: summary %d, sink %d", summary.TotalFrames, len(sink.frames))
	}
	if summary.InpaintedFrames != 201 {
		t.Fatalf("inpainted %d frames, want 201", summary.InpaintedFrames)
	}
	for i := int64(0); i < 50; i++ {
		if !bytes.Equal(sink.frames[i].Data, frameBytes(i)) {
			t.Fatalf("leading frame %d altered", i)
		}
	}
	for i := int64(251); i < 300; i++ {
		if !bytes.Equal(sink.frames[i].Data, frameBytes(i)) {
			t.Fatalf("trailing frame %d altered", i)
		}
	}
	for i := int64(50); i <= 250; i++ {
		if bytes.Equal(sink.frames[i].Data, frameBytes(i)) {
			t.Fatalf("watermarked frame %d not inpainted", i)
		}
	}
}

func TestRunDetectorFaultIsolated(t *testing.T) {
	source := &fakeSource{total: 40}
	sink := &fakeSink{}
	detector := &scriptedDetector{failAt: 5, failSet: true}
	p := newTestPipeline(t, detector, &markingInpainter{})

	summary, err := p.Run(context.Background(), source, sink, nil)
	if err != nil {
		t.Fatalf("run should absorb a single detector failure: %v", err)
	}
	if summary.DetectorErrors != 1 {
		t.Fatalf("detector errors %d, want 1", summary.DetectorErrors)
	}
	if summary.TotalFrames != 40 {
		t.Fatalf("frame count %d", summary.TotalFrames)
	}
}

func TestRunInpaintFaultFallsBack(t *testing.T) {
	source := &fakeSource{total: 40}
	sink := &fakeSink{}
	detector := &scriptedDetector{
		region: detect.Rect{X: 1, Y: 1, W: 2, H: 2},
		active: func(index int64) bool { return index >= 10 && index <= 30 },
	}
	inpainter := &markingInpainter{failAt: 20, failSet: true}
	p := newTestPipeline(t, detector, inpainter)

	summary, err := p.Run(context.Background(), source, sink, nil)
	if err != nil {
		t.Fatalf("run should absorb a single inpaint failure: %v", err)
	}
	if summary.InpaintErrors != 1 {
		t.Fatalf("inpaint errors %d, want 1", summary.InpaintErrors)
	}
	if !bytes.Equal(sink.frames[20].Data, frameBytes(20)) {
		t.Fatal("failed frame should fall back to the original")
	}
	if summary.InpaintedFrames != 20 {
		t.Fatalf("inpainted %d frames, want 20", summary.InpaintedFrames)
	}
}

func TestRunProgressMonotonicEndsAtHundred(t *testing.T) {
	source := &fakeSource{total: 120}
	sink := &fakeSink{}
	p := newTestPipeline(t, &scriptedDetector{}, &markingInpainter{})

	var seen []int
	_, err := p.Run(context.Background(), source, sink, func(percent int, _ string) {
		seen = append(seen, percent)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress regressed: %v", seen)
		}
	}
	if seen[len(seen)-1] != 100 {
		t.Fatalf("final progress %d, want 100", seen[len(seen)-1])
	}
	for _, percent := range seen[:len(seen)-1] {
		if percent > 99 {
			t.Fatalf("progress hit %d before finalize", percent)
		}
	}
}

func TestRunCancellationDiscardsOutput(t *testing.T) {
	source := &fakeSource{total: 200}
	sink := &fakeSink{}
	p := newTestPipeline(t, &scriptedDetector{}, &markingInpainter{})

	ctx, cancel := context.WithCancel(context.Background())
	count := int64(0)
	_, err := p.Run(ctx, source, sink, func(percent int, _ string) {
		count++
		if percent >= 20 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sink.finalized {
		t.Fatal("cancelled run must not finalize output")
	}
	if !sink.discarded {
		t.Fatal("cancelled run must discard partial output")
	}
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	if _, err := New(nil, &markingInpainter{}, testTrackerParams(), slog.Default()); err == nil {
		t.Fatal("expected error without detector")
	}
	if _, err := New(&scriptedDetector{}, nil, testTrackerParams(), slog.Default()); err == nil {
		t.Fatal("expected error without inpainter")
	}
	bad := testTrackerParams()
	bad.Window = 0
	if _, err := New(&scriptedDetector{}, &markingInpainter{}, bad, slog.Default()); err == nil {
		t.Fatal("expected error for invalid tracker params")
	}
}
