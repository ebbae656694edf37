package nn

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt(float32((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y)))
}

// Rect is an axis-aligned bounding box in absolute pixel coordinates,
// stored as top-left corner plus size.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) X2() int {
	return r.X + r.Width
}

func (r Rect) Y2() int {
	return r.Y + r.Height
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X+r.Width, b.X+b.Width)
	y2 := min(r.Y+r.Height, b.Y+b.Height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

func (r Rect) Union(b Rect) Rect {
	x1 := min(r.X, b.X)
	y1 := min(r.Y, b.Y)
	x2 := max(r.X+r.Width, b.X+b.Width)
	y2 := max(r.Y+r.Height, b.Y+b.Height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

// Intersection over Union, clamped to [0,1]. Zero when the boxes don't overlap.
func (r Rect) IOU(b Rect) float32 {
	intersection := r.Intersection(b).Area()
	if intersection <= 0 {
		return 0
	}
	iou := float32(intersection) / float32(r.Area()+b.Area()-intersection)
	return max(0, min(1, iou))
}

func (r Rect) Center() Point {
	return Point{
		X: r.X + r.Width/2,
		Y: r.Y + r.Height/2,
	}
}

func (r *Rect) Offset(dx, dy int) {
	r.X += dx
	r.Y += dy
}

// Clip r so that it lies inside [0,0,width,height].
func (r Rect) Clip(width, height int) Rect {
	x1 := max(0, min(r.X, width))
	y1 := max(0, min(r.Y, height))
	x2 := max(x1, min(r.X2(), width))
	y2 := max(y1, min(r.Y2(), height))
	return RectFromCorners(x1, y1, x2, y2)
}

// Convert to (x1,y1,x2,y2) corner form.
func (r Rect) Corners() (x1, y1, x2, y2 int) {
	return r.X, r.Y, r.X + r.Width, r.Y + r.Height
}

// RectFromCorners is the inverse of Corners. The conversion is exact integer
// arithmetic, so a round trip reproduces the original rectangle.
func RectFromCorners(x1, y1, x2, y2 int) Rect {
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}
