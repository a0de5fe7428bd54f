package detect

import (
	"context"
	"encoding/json"
	"fmt"

	"clearmark/internal/infer"
	"clearmark/internal/media"
	"clearmark/internal/services"
)

// Rect is a pixel-aligned bounding region inside a frame.
type Rect struct {
	X int
	Y int
	W int
	H int
}

// Empty reports whether the region covers no pixels.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Pad grows the region by margin on every side, clamped to the frame.
func (r Rect) Pad(margin, frameWidth, frameHeight int) Rect {
	if r.Empty() {
		return Rect{}
	}
	x := r.X - margin
	y := r.Y - margin
	right := r.X + r.W + margin
	bottom := r.Y + r.H + margin
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if right > frameWidth {
		right = frameWidth
	}
	if bottom > frameHeight {
		bottom = frameHeight
	}
	if right <= x || bottom <= y {
		return Rect{}
	}
	return Rect{X: x, Y: y, W: right - x, H: bottom - y}
}

// Detection is the result of locating the watermark in one frame. A nil
// *Detection means the detector saw nothing.
type Detection struct {
	Region     Rect
	Confidence float64
}

// Detector locates the watermark in a single frame.
type Detector interface {
	Detect(ctx context.Context, frame media.Frame) (*Detection, error)
}

// WorkerDetector runs detection through an external model worker process.
type WorkerDetector struct {
	worker     *infer.Worker
	width      int
	height     int
	confidence float64
}

// NewWorkerDetector wraps a spawned worker for frames of the given
// geometry. Detections scoring below the confidence threshold are
// reported as no detection.
func NewWorkerDetector(worker *infer.Worker, width, height int, confidence float64) *WorkerDetector {
	return &WorkerDetector{worker: worker, width: width, height: height, confidence: confidence}
}

type detectRequest struct {
	Op     string `json:"op"`
	Frame  int64  `json:"frame"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type detectResponse struct {
	OK         bool    `json:"ok"`
	Error      string  `json:"error"`
	Found      bool    `json:"found"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
}

// Detect sends the frame to the worker and parses the reported region.
func (d *WorkerDetector) Detect(ctx context.Context, frame media.Frame) (*Detection, error) {
	request := detectRequest{Op: "detect", Frame: frame.Index, Width: d.width, Height: d.height}
	header, _, err := d.worker.Call(ctx, request, frame.Data)
	if err != nil {
		return nil, err
	}

	var response detectResponse
	if err := json.Unmarshal(header, &response); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "parse", "malformed worker response", err)
	}
	if !response.OK {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "infer", response.Error, nil)
	}
	if !response.Found || response.Confidence < d.confidence {
		return nil, nil
	}

	region := Rect{X: response.X, Y: response.Y, W: response.W, H: response.H}
	if region.Empty() {
		return nil, nil
	}
	if region.X < 0 || region.Y < 0 || region.X+region.W > d.width || region.Y+region.H > d.height {
		return nil, services.Wrap(services.ErrExternalTool, "detect", "infer",
			fmt.Sprintf("region %+v outside %dx%d frame", region, d.width, d.height), nil)
	}
	return &Detection{Region: region, Confidence: response.Confidence}, nil
}
