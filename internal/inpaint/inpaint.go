package inpaint

import (
	"context"
	"encoding/json"
	"fmt"

	"clearmark/internal/detect"
	"clearmark/internal/infer"
	"clearmark/internal/media"
	"clearmark/internal/services"
)

// Inpainter replaces a frame region with synthesized content. The returned
// buffer is a complete frame of the same byte length as the input.
type Inpainter interface {
	Inpaint(ctx context.Context, frame media.Frame, region detect.Rect) ([]byte, error)
}

// WorkerInpainter runs inpainting through an external model worker
// process.
type WorkerInpainter struct {
	worker *infer.Worker
	width  int
	height int
}

// NewWorkerInpainter wraps a spawned worker for frames of the given
// geometry.
func NewWorkerInpainter(worker *infer.Worker, width, height int) *WorkerInpainter {
	return &WorkerInpainter{worker: worker, width: width, height: height}
}

type inpaintRequest struct {
	Op     string `json:"op"`
	Frame  int64  `json:"frame"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	W      int    `json:"w"`
	H      int    `json:"h"`
}

type inpaintResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Inpaint sends the frame and region to the worker and returns the
// repainted frame bytes.
func (p *WorkerInpainter) Inpaint(ctx context.Context, frame media.Frame, region detect.Rect) ([]byte, error) {
	if region.Empty() {
		return nil, services.Wrap(services.ErrValidation, "inpaint", "request", "empty region", nil)
	}

	request := inpaintRequest{
		Op:     "inpaint",
		Frame:  frame.Index,
		Width:  p.width,
		Height: p.height,
		X:      region.X,
		Y:      region.Y,
		W:      region.W,
		H:      region.H,
	}
	header, payload, err := p.worker.Call(ctx, request, frame.Data)
	if err != nil {
		return nil, err
	}

	var response inpaintResponse
	if err := json.Unmarshal(header, &response); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "inpaint", "parse", "malformed worker response", err)
	}
	if !response.OK {
		return nil, services.Wrap(services.ErrExternalTool, "inpaint", "infer", response.Error, nil)
	}
	if len(payload) != len(frame.Data) {
		return nil, services.Wrap(services.ErrExternalTool, "inpaint", "infer",
			fmt.Sprintf("worker returned %d bytes, want %d", len(payload), len(frame.Data)), nil)
	}
	return payload, nil
}
