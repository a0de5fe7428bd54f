package tracker

import (
	"testing"

	"clearmark/internal/detect"
)

func testParams() Params {
	return Params{Window: 4, Corroborate: 1, Smooth: 3, Padding: 0}
}

func runSequence(t *testing.T, params Params, detections []*detect.Detection) []Mask {
	t.Helper()
	tr, err := New(params, 1280, 720)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	var masks []Mask
	for _, det := range detections {
		masks = append(masks, tr.Push(det)...)
	}
	masks = append(masks, tr.Flush()...)
	if len(masks) != len(detections) {
		t.Fatalf("got %d masks for %d detections", len(masks), len(detections))
	}
	for i, mask := range masks {
		if mask.Index != int64(i) {
			t.Fatalf("mask %d carries index %d", i, mask.Index)
		}
	}
	return masks
}

func det(x, y, w, h int) *detect.Detection {
	return &detect.Detection{Region: detect.Rect{X: x, Y: y, W: w, H: h}, Confidence: 0.9}
}

func TestIsolatedDetectionSuppressed(t *testing.T) {
	detections := make([]*detect.Detection, 12)
	detections[5] = det(100, 100, 40, 20)

	masks := runSequence(t, testParams(), detections)
	for i, mask := range masks {
		if !mask.Empty() {
			t.Fatalf("frame %d unexpectedly masked: %+v", i, mask.Region)
		}
	}
}

func TestCorroboratedRunMasked(t *testing.T) {
	detections := make([]*detect.Detection, 12)
	for i := 3; i <= 8; i++ {
		detections[i] = det(100, 100, 40, 20)
	}

	masks := runSequence(t, testParams(), detections)
	for i := 3; i <= 8; i++ {
		if masks[i].Empty() {
			t.Fatalf("frame %d should be masked", i)
		}
		if masks[i].Region != (detect.Rect{X: 100, Y: 100, W: 40, H: 20}) {
			t.Fatalf("frame %d region %+v", i, masks[i].Region)
		}
	}
	for _, i := range []int{0, 1, 2, 9, 10, 11} {
		if !masks[i].Empty() {
			t.Fatalf("frame %d should be empty", i)
		}
	}
}

func TestShortGapInterpolated(t *testing.T) {
	detections := make([]*detect.Detection, 12)
	for i := 2; i <= 4; i++ {
		detections[i] = det(100, 100, 40, 20)
	}
	// Frames 5 and 6 missed; detection resumes shifted right.
	for i := 7; i <= 9; i++ {
		detections[i] = det(130, 100, 40, 20)
	}

	masks := runSequence(t, testParams(), detections)
	if masks[5].Empty() || masks[6].Empty() {
		t.Fatal("gap frames should be filled")
	}
	if masks[5].Region.X <= 100 || masks[5].Region.X >= 130 {
		t.Fatalf("frame 5 x %d not between endpoints", masks[5].Region.X)
	}
	if masks[6].Region.X <= masks[5].Region.X {
		t.Fatalf("interpolation not advancing: frame5 x=%d frame6 x=%d", masks[5].Region.X, masks[6].Region.X)
	}
}

func TestBoundarySmoothing(t *testing.T) {
	detections := make([]*detect.Detection, 9)
	for i := 1; i <= 7; i++ {
		detections[i] = det(100, 100, 40, 20)
	}
	// One frame with a jittered extent gets averaged with its neighbors.
	detections[4] = det(100, 100, 70, 20)

	masks := runSequence(t, testParams(), detections)
	if masks[4].Region.W != 50 {
		t.Fatalf("frame 4 width %d, want averaged 50", masks[4].Region.W)
	}
	if masks[2].Region.W != 40 {
		t.Fatalf("frame 2 width %d, want 40", masks[2].Region.W)
	}
}

func TestPaddingClampedToFrame(t *testing.T) {
	params := testParams()
	params.Padding = 10
	detections := make([]*detect.Detection, 8)
	for i := 1; i <= 6; i++ {
		detections[i] = det(0, 0, 30, 30)
	}

	masks := runSequence(t, params, detections)
	region := masks[3].Region
	if region.X != 0 || region.Y != 0 {
		t.Fatalf("padded region origin %+v should clamp to frame", region)
	}
	if region.W != 40 || region.H != 40 {
		t.Fatalf("padded region extent %+v", region)
	}
}

func TestMaskSequenceDeterministic(t *testing.T) {
	detections := make([]*detect.Detection, 40)
	for i := 5; i < 30; i++ {
		if i%7 == 0 {
			continue
		}
		detections[i] = det(50+i, 60, 40+i%3, 20)
	}

	first := runSequence(t, testParams(), detections)
	second := runSequence(t, testParams(), detections)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("frame %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestLookaheadBoundedByWindow(t *testing.T) {
	tr, err := New(testParams(), 1280, 720)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	emitted := 0
	for i := 0; i < 10; i++ {
		emitted += len(tr.Push(nil))
	}
	// Window of 4 holds back exactly 4 frames.
	if emitted != 6 {
		t.Fatalf("emitted %d masks after 10 pushes, want 6", emitted)
	}
	if got := len(tr.Flush()); got != 4 {
		t.Fatalf("flush returned %d masks, want 4", got)
	}
}

func TestParamsValidate(t *testing.T) {
	bad := []Params{
		{Window: 0, Corroborate: 1, Smooth: 3},
		{Window: 4, Corroborate: -1, Smooth: 3},
		{Window: 2, Corroborate: 5, Smooth: 3},
		{Window: 4, Corroborate: 1, Smooth: 0},
		{Window: 4, Corroborate: 1, Smooth: 3, Padding: -2},
	}
	for i, params := range bad {
		if err := params.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, params)
		}
	}
	if err := testParams().Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
}
