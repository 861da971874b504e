package geometry

// Rect is an axis-aligned rectangle in pixel coordinates.
// A valid Rect has Left < Right and Top < Bottom.
type Rect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// NormRect is a rectangle expressed as fractions of the image dimensions,
// matching the wire format used for bounding boxes.
type NormRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Width() int {
	return r.Right - r.Left
}

func (r Rect) Height() int {
	return r.Bottom - r.Top
}

func (r Rect) Valid() bool {
	return r.Left < r.Right && r.Top < r.Bottom
}

// Area returns the rectangle's area in square pixels, 0 for invalid rects.
func Area(r Rect) int {
	if !r.Valid() {
		return 0
	}
	return r.Width() * r.Height()
}

// Intersection returns the overlapping area of a and b in square pixels.
func Intersection(a, b Rect) int {
	left := max(a.Left, b.Left)
	top := max(a.Top, b.Top)
	right := min(a.Right, b.Right)
	bottom := min(a.Bottom, b.Bottom)
	if left >= right || top >= bottom {
		return 0
	}
	return (right - left) * (bottom - top)
}

// IoU returns the intersection-over-union ratio of a and b.
// Disjoint rectangles score 0, identical rectangles score 1.
func IoU(a, b Rect) float64 {
	inter := Intersection(a, b)
	if inter == 0 {
		return 0
	}
	union := Area(a) + Area(b) - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Expand pads each side of r proportionally to its own dimension and clamps
// the result to bounds. A factor of 0.1 grows a 100px wide rect by 10px on
// the left and 10px on the right.
func Expand(r Rect, factor float64, bounds Rect) Rect {
	padX := int(float64(r.Width()) * factor)
	padY := int(float64(r.Height()) * factor)
	return Clamp(Rect{
		Left:   r.Left - padX,
		Top:    r.Top - padY,
		Right:  r.Right + padX,
		Bottom: r.Bottom + padY,
	}, bounds)
}

// Contains reports whether inner lies within outer expanded by cushion
// pixels on each side.
func Contains(inner, outer Rect, cushion int) bool {
	return inner.Left >= outer.Left-cushion &&
		inner.Top >= outer.Top-cushion &&
		inner.Right <= outer.Right+cushion &&
		inner.Bottom <= outer.Bottom+cushion
}

// Clamp restricts r to bounds, preserving validity where possible.
func Clamp(r Rect, bounds Rect) Rect {
	return Rect{
		Left:   min(max(r.Left, bounds.Left), bounds.Right),
		Top:    min(max(r.Top, bounds.Top), bounds.Bottom),
		Right:  max(min(r.Right, bounds.Right), bounds.Left),
		Bottom: max(min(r.Bottom, bounds.Bottom), bounds.Top),
	}
}

// Normalize converts r into fractions of an image of the given dimensions.
func Normalize(r Rect, width, height int) NormRect {
	if width <= 0 || height <= 0 {
		return NormRect{}
	}
	return NormRect{
		X:      float64(r.Left) / float64(width),
		Y:      float64(r.Top) / float64(height),
		Width:  float64(r.Width()) / float64(width),
		Height: float64(r.Height()) / float64(height),
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
