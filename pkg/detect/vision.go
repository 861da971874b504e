package detect

import (
	"bytes"
	"context"
	"fmt"
	"image"

	vision "cloud.google.com/go/vision/apiv1"

	"github.com/foodlens/foodlens/pkg/geometry"
	"github.com/foodlens/foodlens/pkg/imgutil"
	"github.com/foodlens/foodlens/pkg/merge"
)

// VisionLocalizer is the secondary detector: Google Vision object
// localization. It has no notion of the label vocabulary and is only
// consulted when the primary detector returns a sparse result.
type VisionLocalizer struct {
	client *vision.ImageAnnotatorClient
}

// NewVisionLocalizer builds a localizer using ambient Google credentials.
func NewVisionLocalizer(ctx context.Context) (*VisionLocalizer, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &VisionLocalizer{client: client}, nil
}

// Detect localizes objects and returns candidates at or above minScore,
// converting normalized polygon vertices to pixel rectangles.
func (v *VisionLocalizer) Detect(ctx context.Context, img image.Image, minScore float64) ([]merge.Candidate, error) {
	data, err := imgutil.EncodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode localizer input: %w", err)
	}

	vimg, err := vision.NewImageFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build vision image: %w", err)
	}

	annotations, err := v.client.LocalizeObjects(ctx, vimg, nil)
	if err != nil {
		return nil, fmt.Errorf("object localization failed: %w", err)
	}

	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	var cands []merge.Candidate
	for _, ann := range annotations {
		score := float64(ann.GetScore())
		if score < minScore || ann.GetBoundingPoly() == nil {
			continue
		}

		verts := ann.GetBoundingPoly().GetNormalizedVertices()
		if len(verts) == 0 {
			continue
		}

		minX, minY := 1.0, 1.0
		maxX, maxY := 0.0, 0.0
		for _, vert := range verts {
			x := clamp01(float64(vert.GetX()))
			y := clamp01(float64(vert.GetY()))
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}

		rect := geometry.Rect{
			Left:   int(minX * w),
			Top:    int(minY * h),
			Right:  int(maxX * w),
			Bottom: int(maxY * h),
		}
		if !rect.Valid() {
			continue
		}

		cands = append(cands, merge.Candidate{
			Label:  ann.GetName(),
			Score:  score,
			Rect:   rect,
			Source: "vision",
		})
	}
	return cands, nil
}

// Close releases the underlying client connection.
func (v *VisionLocalizer) Close() error {
	return v.client.Close()
}
