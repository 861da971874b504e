// Package detect orchestrates the external object detectors: a primary
// zero-shot detector prompted with a food/package vocabulary, a secondary
// general-purpose localizer used when the primary comes back sparse, and a
// focus refinement pass scoped to a user-chosen point.
package detect

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/foodlens/foodlens/pkg/geometry"
	"github.com/foodlens/foodlens/pkg/imgutil"
	"github.com/foodlens/foodlens/pkg/merge"
)

const (
	// DefaultInputLimit is the longest image side sent to a detector.
	DefaultInputLimit = 1024

	// sparseThreshold is the primary box count below which the secondary
	// detector is also queried.
	sparseThreshold = 2

	// secondaryRelax is subtracted from the caller's minimum score when
	// querying the secondary detector.
	secondaryRelax = 0.15

	// focusRelax is subtracted from the caller's minimum score during
	// focus refinement.
	focusRelax = 0.1

	// focusWindowFrac sizes the square focus window relative to the
	// shorter image side.
	focusWindowFrac = 0.55

	minScoreFloor = 0.1
)

// Detector produces raw candidates from an image. Implementations call an
// external service; coordinates are pixels in the given image's space.
type Detector interface {
	Detect(ctx context.Context, img image.Image, minScore float64) ([]merge.Candidate, error)
}

// FocusPoint is a normalized point inside the image, used to request a
// scoped re-detection.
type FocusPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Result is the outcome of a full detection pass. DetectionCount is the raw
// candidate count before merging; zero means neither detector saw anything.
type Result struct {
	Regions        []merge.Region
	DetectionCount int
}

// Gateway coordinates the detectors and the region merger.
type Gateway struct {
	Primary    Detector
	Secondary  Detector // optional
	Merge      merge.Options
	InputLimit int
}

// NewGateway wires a gateway with default merge options and input limit.
func NewGateway(primary, secondary Detector) *Gateway {
	return &Gateway{
		Primary:    primary,
		Secondary:  secondary,
		Merge:      merge.DefaultOptions(),
		InputLimit: DefaultInputLimit,
	}
}

// Detect runs the full detection pass: resize for the detector input limit,
// query the primary detector, union in the secondary when results are
// sparse, map boxes back to original-image space, and merge. A primary
// detector failure is fatal; an empty result is not, it simply yields a
// Result with DetectionCount 0 and no regions.
func (g *Gateway) Detect(ctx context.Context, img image.Image, minScore float64) (Result, error) {
	limit := g.InputLimit
	if limit <= 0 {
		limit = DefaultInputLimit
	}
	resized, sx, sy := imgutil.ResizeMax(img, limit)

	cands, err := g.Primary.Detect(ctx, resized, minScore)
	if err != nil {
		return Result{}, fmt.Errorf("primary detector: %w", err)
	}

	if len(cands) < sparseThreshold && g.Secondary != nil {
		relaxed := relax(minScore, secondaryRelax)
		extra, err := g.Secondary.Detect(ctx, resized, relaxed)
		if err != nil {
			slog.Warn("secondary detector failed, continuing with primary results", "err", err)
		} else {
			cands = append(cands, extra...)
		}
	}

	for i := range cands {
		cands[i].Rect = scaleRect(cands[i].Rect, sx, sy)
	}

	count := len(cands)
	if count == 0 {
		return Result{}, nil
	}

	bounds := img.Bounds()
	regions := merge.Merge(cands, bounds.Dx(), bounds.Dy(), g.Merge)
	return Result{Regions: regions, DetectionCount: count}, nil
}

// Refine reruns detection inside a square window centered on the given
// normalized point and returns the regions found there that do not collide
// with the existing set. Existing regions are never mutated; callers append
// the returned regions to theirs.
func (g *Gateway) Refine(ctx context.Context, img image.Image, existing []merge.Region, pt FocusPoint, minScore float64) ([]merge.Region, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	window := focusWindow(w, h, pt)
	crop, err := imgutil.Crop(img, window)
	if err != nil {
		return nil, fmt.Errorf("focus crop: %w", err)
	}

	limit := g.InputLimit
	if limit <= 0 {
		limit = DefaultInputLimit
	}
	resized, sx, sy := imgutil.ResizeMax(crop, limit)

	cands, err := g.Primary.Detect(ctx, resized, relax(minScore, focusRelax))
	if err != nil {
		return nil, fmt.Errorf("focus detection: %w", err)
	}

	// Offset crop-space boxes back into full-image coordinates.
	for i := range cands {
		r := scaleRect(cands[i].Rect, sx, sy)
		cands[i].Rect = geometry.Rect{
			Left:   r.Left + window.Left,
			Top:    r.Top + window.Top,
			Right:  r.Right + window.Left,
			Bottom: r.Bottom + window.Top,
		}
	}

	cands = dropColliding(cands, existing, g.Merge)
	if len(cands) == 0 {
		return nil, nil
	}

	merged := merge.Merge(cands, w, h, g.Merge)
	// A full-frame fallback makes no sense for a focus pass.
	if len(merged) == 1 && merged[0].Label == merge.FallbackLabel && merged[0].Score == 0 {
		return nil, nil
	}
	return merged, nil
}

// focusWindow computes the square crop window for a focus point, clamped to
// the image bounds.
func focusWindow(w, h int, pt FocusPoint) geometry.Rect {
	minDim := w
	if h < minDim {
		minDim = h
	}
	side := int(focusWindowFrac * float64(minDim))
	if side < 1 {
		side = 1
	}

	cx := int(clamp01(pt.X) * float64(w))
	cy := int(clamp01(pt.Y) * float64(h))

	left := cx - side/2
	top := cy - side/2
	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}
	if left+side > w {
		left = w - side
	}
	if top+side > h {
		top = h - side
	}
	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}

	return geometry.Rect{Left: left, Top: top, Right: left + side, Bottom: top + side}
}

// dropColliding removes candidates that overlap or nest with an already
// known region; focus refinement only appends genuinely new regions.
func dropColliding(cands []merge.Candidate, existing []merge.Region, opts merge.Options) []merge.Candidate {
	var kept []merge.Candidate
	for _, c := range cands {
		collides := false
		for _, r := range existing {
			if geometry.IoU(c.Rect, r.Rect) >= opts.IoUThreshold ||
				geometry.Contains(c.Rect, r.Rect, opts.Cushion) ||
				geometry.Contains(r.Rect, c.Rect, opts.Cushion) {
				collides = true
				break
			}
		}
		if !collides {
			kept = append(kept, c)
		}
	}
	return kept
}

func scaleRect(r geometry.Rect, sx, sy float64) geometry.Rect {
	if sx == 1 && sy == 1 {
		return r
	}
	return geometry.Rect{
		Left:   int(float64(r.Left) * sx),
		Top:    int(float64(r.Top) * sy),
		Right:  int(float64(r.Right) * sx),
		Bottom: int(float64(r.Bottom) * sy),
	}
}

func relax(score, by float64) float64 {
	relaxed := score - by
	if relaxed < minScoreFloor {
		relaxed = minScoreFloor
	}
	return relaxed
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
