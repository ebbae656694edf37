package nn

import (
	"testing"
)

func TestIOU(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rect{X: 5, Y: 5, Width: 10, Height: 10}
	if a.IOU(b) != 0.25/(0.75+1) {
		t.Errorf("IOU is %v, not 0.25/1.75", a.IOU(b))
	}
	if a.IOU(b) != b.IOU(a) {
		t.Errorf("IOU is not symmetric: %v vs %v", a.IOU(b), b.IOU(a))
	}
	if a.IOU(a) != 1.0 {
		t.Errorf("IOU of a box with itself is %v, not 1", a.IOU(a))
	}
	disjoint := Rect{X: 100, Y: 100, Width: 10, Height: 10}
	if a.IOU(disjoint) != 0 {
		t.Errorf("IOU of disjoint boxes is %v, not 0", a.IOU(disjoint))
	}
	// Boxes that share only an edge don't overlap
	touching := Rect{X: 10, Y: 0, Width: 10, Height: 10}
	if a.IOU(touching) != 0 {
		t.Errorf("IOU of touching boxes is %v, not 0", a.IOU(touching))
	}
}

func TestCornersRoundTrip(t *testing.T) {
	boxes := []Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: -3, Y: 7, Width: 1, Height: 999},
		{X: 640, Y: 480, Width: 0, Height: 0},
	}
	for _, r := range boxes {
		x1, y1, x2, y2 := r.Corners()
		if RectFromCorners(x1, y1, x2, y2) != r {
			t.Errorf("Round trip of %v gives %v", r, RectFromCorners(x1, y1, x2, y2))
		}
	}
}

func TestClip(t *testing.T) {
	r := Rect{X: -5, Y: 2, Width: 20, Height: 20}
	c := r.Clip(10, 10)
	if c.X != 0 || c.Y != 2 || c.X2() != 10 || c.Y2() != 10 {
		t.Errorf("Clip gives %v", c)
	}
}
