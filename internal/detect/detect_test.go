package detect

import "testing"

func TestRectPadClampsToFrame(t *testing.T) {
	cases := []struct {
		name   string
		rect   Rect
		margin int
		want   Rect
	}{
		{
			name:   "interior region grows evenly",
			rect:   Rect{X: 20, Y: 20, W: 10, H: 10},
			margin: 4,
			want:   Rect{X: 16, Y: 16, W: 18, H: 18},
		},
		{
			name:   "corner region clamps at origin",
			rect:   Rect{X: 1, Y: 2, W: 10, H: 10},
			margin: 5,
			want:   Rect{X: 0, Y: 0, W: 16, H: 17},
		},
		{
			name:   "edge region clamps at frame bounds",
			rect:   Rect{X: 90, Y: 50, W: 10, H: 14},
			margin: 8,
			want:   Rect{X: 82, Y: 42, W: 18, H: 22},
		},
		{
			name:   "zero margin is identity",
			rect:   Rect{X: 5, Y: 5, W: 3, H: 3},
			margin: 0,
			want:   Rect{X: 5, Y: 5, W: 3, H: 3},
		},
		{
			name:   "empty region stays empty",
			rect:   Rect{},
			margin: 10,
			want:   Rect{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.rect.Pad(tc.margin, 100, 64)
			if got != tc.want {
				t.Fatalf("Pad(%d) = %+v, want %+v", tc.margin, got, tc.want)
			}
		})
	}
}

func TestRectEmpty(t *testing.T) {
	if !(Rect{}).Empty() {
		t.Fatal("zero rect should be empty")
	}
	if !(Rect{X: 5, Y: 5, W: 0, H: 3}).Empty() {
		t.Fatal("zero-width rect should be empty")
	}
	if (Rect{X: 5, Y: 5, W: 1, H: 1}).Empty() {
		t.Fatal("1x1 rect should not be empty")
	}
}
