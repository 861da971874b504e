package geometry

import (
	"math"
	"testing"
)

func TestArea(t *testing.T) {
	tests := []struct {
		name string
		rect Rect
		want int
	}{
		{"simple", Rect{0, 0, 10, 10}, 100},
		{"offset", Rect{5, 5, 15, 25}, 200},
		{"invalid", Rect{10, 10, 5, 5}, 0},
		{"zero width", Rect{5, 0, 5, 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Area(tt.rect); got != tt.want {
				t.Errorf("Area(%v) = %d, want %d", tt.rect, got, tt.want)
			}
		})
	}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want float64
	}{
		{"identical", Rect{0, 0, 10, 10}, Rect{0, 0, 10, 10}, 1.0},
		{"disjoint", Rect{0, 0, 10, 10}, Rect{20, 20, 30, 30}, 0.0},
		{"touching edges", Rect{0, 0, 10, 10}, Rect{10, 0, 20, 10}, 0.0},
		{"half overlap", Rect{0, 0, 10, 10}, Rect{5, 0, 15, 10}, 50.0 / 150.0},
		{"contained quarter", Rect{0, 0, 10, 10}, Rect{0, 0, 5, 5}, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IoU(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IoU(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIoUSymmetric(t *testing.T) {
	a := Rect{3, 4, 40, 50}
	b := Rect{10, 10, 60, 45}
	if IoU(a, b) != IoU(b, a) {
		t.Errorf("IoU is not symmetric: %f vs %f", IoU(a, b), IoU(b, a))
	}
}

func TestExpand(t *testing.T) {
	bounds := Rect{0, 0, 100, 100}

	tests := []struct {
		name   string
		rect   Rect
		factor float64
		want   Rect
	}{
		{"pads proportionally", Rect{20, 20, 40, 60}, 0.1, Rect{18, 16, 42, 64}},
		{"clamped at origin", Rect{0, 0, 20, 20}, 0.5, Rect{0, 0, 30, 30}},
		{"clamped at far edge", Rect{80, 80, 100, 100}, 0.5, Rect{70, 70, 100, 100}},
		{"zero factor", Rect{10, 10, 20, 20}, 0, Rect{10, 10, 20, 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expand(tt.rect, tt.factor, bounds); got != tt.want {
				t.Errorf("Expand(%v, %v) = %v, want %v", tt.rect, tt.factor, got, tt.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	outer := Rect{10, 10, 90, 90}

	tests := []struct {
		name    string
		inner   Rect
		cushion int
		want    bool
	}{
		{"fully inside", Rect{20, 20, 80, 80}, 0, true},
		{"identical", Rect{10, 10, 90, 90}, 0, true},
		{"sticks out without cushion", Rect{5, 20, 80, 80}, 0, false},
		{"sticks out within cushion", Rect{5, 20, 80, 80}, 6, true},
		{"far outside", Rect{100, 100, 120, 120}, 6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Contains(tt.inner, outer, tt.cushion); got != tt.want {
				t.Errorf("Contains(%v, %v, %d) = %v, want %v", tt.inner, outer, tt.cushion, got, tt.want)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	bounds := Rect{0, 0, 100, 50}

	got := Clamp(Rect{-10, -5, 120, 60}, bounds)
	want := Rect{0, 0, 100, 50}
	if got != want {
		t.Errorf("Clamp = %v, want %v", got, want)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize(Rect{10, 20, 60, 100}, 100, 200)
	want := NormRect{X: 0.1, Y: 0.1, Width: 0.5, Height: 0.4}
	if got != want {
		t.Errorf("Normalize = %v, want %v", got, want)
	}

	if got := Normalize(Rect{0, 0, 10, 10}, 0, 0); got != (NormRect{}) {
		t.Errorf("Normalize with zero dimensions = %v, want zero value", got)
	}
}
