package tracker

import (
	"fmt"

	"clearmark/internal/detect"
)

// Params tunes the stabilization policy. Window is the lookahead and
// history span in frames, Corroborate the minimum number of other
// detections in the window before a direct detection is honored, Smooth
// the moving-average span for region boundaries, Padding the margin in
// pixels added around the final region.
type Params struct {
	Window      int
	Corroborate int
	Smooth      int
	Padding     int
}

// Validate rejects parameter combinations the tracker cannot honor.
func (p Params) Validate() error {
	if p.Window < 1 {
		return fmt.Errorf("tracker window must be at least 1, got %d", p.Window)
	}
	if p.Corroborate < 0 {
		return fmt.Errorf("tracker corroboration must not be negative, got %d", p.Corroborate)
	}
	if p.Corroborate > 2*p.Window {
		return fmt.Errorf("tracker corroboration %d can never be met within window %d", p.Corroborate, p.Window)
	}
	if p.Smooth < 1 {
		return fmt.Errorf("tracker smoothing span must be at least 1, got %d", p.Smooth)
	}
	if p.Padding < 0 {
		return fmt.Errorf("tracker padding must not be negative, got %d", p.Padding)
	}
	return nil
}

// Mask is the stabilized region for one frame. An empty region means the
// frame passes through untouched.
type Mask struct {
	Index  int64
	Region detect.Rect
}

// Empty reports whether the mask marks no pixels.
func (m Mask) Empty() bool {
	return m.Region.Empty()
}

type slot struct {
	index int64
	det   *detect.Detection
}

// Tracker consumes detections in frame order and emits one mask per
// frame once enough lookahead has accumulated.
type Tracker struct {
	params      Params
	frameWidth  int
	frameHeight int

	pending []slot
	pushed  int64
	next    int64
}

// New builds a tracker for frames of the given geometry.
func New(params Params, frameWidth, frameHeight int) (*Tracker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if frameWidth <= 0 || frameHeight <= 0 {
		return nil, fmt.Errorf("tracker frame geometry %dx%d", frameWidth, frameHeight)
	}
	return &Tracker{params: params, frameWidth: frameWidth, frameHeight: frameHeight}, nil
}

// Push feeds the detection for the next frame in sequence (nil when the
// detector saw nothing) and returns any masks that became final. Masks
// come back in frame order; during the initial lookahead fill the slice
// is empty.
func (t *Tracker) Push(det *detect.Detection) []Mask {
	t.pending = append(t.pending, slot{index: t.pushed, det: det})
	t.pushed++

	var masks []Mask
	for t.pushed-t.next > int64(t.params.Window) {
		masks = append(masks, t.finalize(t.next))
		t.advance()
	}
	return masks
}

// Flush drains masks for every pushed frame not yet finalized. The
// tracker is exhausted afterwards; further pushes start a new sequence
// numbering where the old one left off.
func (t *Tracker) Flush() []Mask {
	var masks []Mask
	for t.next < t.pushed {
		masks = append(masks, t.finalize(t.next))
		t.advance()
	}
	return masks
}

func (t *Tracker) advance() {
	t.next++
	floor := t.next - int64(t.params.Window)
	for len(t.pending) > 0 && t.pending[0].index < floor {
		t.pending = t.pending[1:]
	}
}

// finalize computes the mask for frame i from the detections currently
// in the window.
func (t *Tracker) finalize(i int64) Mask {
	direct := t.detectionAt(i)

	var region detect.Rect
	switch {
	case direct != nil:
		if t.corroborated(i) {
			region = t.smoothed(i)
		}
	default:
		prior, priorIdx := t.nearestBefore(i)
		following, followIdx := t.nearestAfter(i)
		if prior != nil && following != nil {
			region = interpolate(prior.Region, following.Region, priorIdx, followIdx, i)
		}
	}

	if !region.Empty() {
		region = region.Pad(t.params.Padding, t.frameWidth, t.frameHeight)
	}
	return Mask{Index: i, Region: region}
}

func (t *Tracker) detectionAt(i int64) *detect.Detection {
	for _, s := range t.pending {
		if s.index == i {
			return s.det
		}
	}
	return nil
}

// corroborated reports whether enough other frames in the window carry a
// detection to trust the one at frame i.
func (t *Tracker) corroborated(i int64) bool {
	if t.params.Corroborate == 0 {
		return true
	}
	count := 0
	for _, s := range t.pending {
		if s.index == i || s.det == nil {
			continue
		}
		if abs64(s.index-i) <= int64(t.params.Window) {
			count++
			if count >= t.params.Corroborate {
				return true
			}
		}
	}
	return false
}

// smoothed averages the region extent over detections within the
// smoothing span centered on frame i.
func (t *Tracker) smoothed(i int64) detect.Rect {
	half := int64(t.params.Smooth / 2)
	var sumX, sumY, sumW, sumH, count int64
	for _, s := range t.pending {
		if s.det == nil || abs64(s.index-i) > half {
			continue
		}
		sumX += int64(s.det.Region.X)
		sumY += int64(s.det.Region.Y)
		sumW += int64(s.det.Region.W)
		sumH += int64(s.det.Region.H)
		count++
	}
	if count == 0 {
		return detect.Rect{}
	}
	return detect.Rect{
		X: int(divRound(sumX, count)),
		Y: int(divRound(sumY, count)),
		W: int(divRound(sumW, count)),
		H: int(divRound(sumH, count)),
	}
}

func (t *Tracker) nearestBefore(i int64) (*detect.Detection, int64) {
	var best *detect.Detection
	var bestIdx int64
	for _, s := range t.pending {
		if s.det == nil || s.index >= i {
			continue
		}
		if i-s.index > int64(t.params.Window) {
			continue
		}
		if best == nil || s.index > bestIdx {
			best = s.det
			bestIdx = s.index
		}
	}
	return best, bestIdx
}

func (t *Tracker) nearestAfter(i int64) (*detect.Detection, int64) {
	var best *detect.Detection
	var bestIdx int64
	for _, s := range t.pending {
		if s.det == nil || s.index <= i {
			continue
		}
		if s.index-i > int64(t.params.Window) {
			continue
		}
		if best == nil || s.index < bestIdx {
			best = s.det
			bestIdx = s.index
		}
	}
	return best, bestIdx
}

// interpolate positions the region for frame i linearly between the
// regions seen at frames p and n.
func interpolate(a, b detect.Rect, p, n, i int64) detect.Rect {
	span := n - p
	if span <= 0 {
		return a
	}
	offset := i - p
	lerp := func(from, to int) int {
		return from + int(divRound(int64(to-from)*offset, span))
	}
	return detect.Rect{
		X: lerp(a.X, b.X),
		Y: lerp(a.Y, b.Y),
		W: lerp(a.W, b.W),
		H: lerp(a.H, b.H),
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// divRound divides rounding half away from zero so interpolation is
// symmetric.
func divRound(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	half := den / 2
	if num < 0 {
		return (num - half) / den
	}
	return (num + half) / den
}
