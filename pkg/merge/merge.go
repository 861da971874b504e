package merge

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/foodlens/foodlens/pkg/geometry"
)

// FallbackLabel is the label given to the synthesized full-frame region when
// every candidate is filtered out.
const FallbackLabel = "item"

// Candidate is a raw detection as returned by a detector, before merging.
type Candidate struct {
	Label  string
	Score  float64
	Rect   geometry.Rect
	Source string
}

// Region is a merged, deduplicated bounding rectangle believed to contain one
// product. It is the unit of downstream work.
type Region struct {
	ID    string
	Label string
	Score float64
	Rect  geometry.Rect
	Norm  geometry.NormRect
}

// Options tunes the merge pass. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	// IoUThreshold is the per-label overlap above which the lower-scoring
	// candidate is suppressed.
	IoUThreshold float64
	// Cushion is the pixel tolerance for the containment elimination pass.
	Cushion int
	// MinAreaFrac rejects rectangles smaller than this fraction of the
	// image area.
	MinAreaFrac float64
	// MinSideFrac rejects rectangles whose shorter side is smaller than
	// this fraction of min(image width, image height).
	MinSideFrac float64
	// MaxRegions caps the number of regions handed downstream.
	MaxRegions int
}

func DefaultOptions() Options {
	return Options{
		IoUThreshold: 0.45,
		Cushion:      6,
		MinAreaFrac:  0.005,
		MinSideFrac:  0.05,
		MaxRegions:   8,
	}
}

// Merge reduces raw detection candidates to a bounded, deduplicated region
// list. Within each label group a greedy non-max suppression keeps the
// highest-scoring rectangle; the kept rectangle's geometry is never altered
// by the ones it absorbs. Across labels, rectangles contained by (or
// containing) another kept rectangle lose to the higher score. Noise boxes
// are filtered by relative area and side length. If no candidate survives a
// non-empty input, a single full-frame region is synthesized.
func Merge(cands []Candidate, imgWidth, imgHeight int, opts Options) []Region {
	if len(cands) == 0 {
		return nil
	}

	bounds := geometry.Rect{Left: 0, Top: 0, Right: imgWidth, Bottom: imgHeight}

	clamped := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		c.Rect = geometry.Clamp(c.Rect, bounds)
		if !c.Rect.Valid() {
			continue
		}
		clamped = append(clamped, c)
	}

	kept := suppressPerLabel(clamped, opts.IoUThreshold)
	kept = eliminateNested(kept, opts.Cushion)
	kept = filterNoise(kept, imgWidth, imgHeight, opts)

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	if opts.MaxRegions > 0 && len(kept) > opts.MaxRegions {
		kept = kept[:opts.MaxRegions]
	}

	if len(kept) == 0 {
		kept = []Candidate{{
			Label: FallbackLabel,
			Score: 0,
			Rect:  bounds,
		}}
	}

	regions := make([]Region, 0, len(kept))
	for _, c := range kept {
		regions = append(regions, Region{
			ID:    newRegionID(),
			Label: c.Label,
			Score: c.Score,
			Rect:  c.Rect,
			Norm:  geometry.Normalize(c.Rect, imgWidth, imgHeight),
		})
	}
	return regions
}

// suppressPerLabel runs greedy NMS inside each label group.
func suppressPerLabel(cands []Candidate, threshold float64) []Candidate {
	groups := make(map[string][]Candidate)
	var order []string
	for _, c := range cands {
		key := strings.ToLower(c.Label)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	var kept []Candidate
	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Score > group[j].Score
		})
		var groupKept []Candidate
		for _, c := range group {
			suppressed := false
			for _, k := range groupKept {
				if geometry.IoU(c.Rect, k.Rect) >= threshold {
					suppressed = true
					break
				}
			}
			if !suppressed {
				groupKept = append(groupKept, c)
			}
		}
		kept = append(kept, groupKept...)
	}
	return kept
}

// eliminateNested drops any rectangle fully contained by (or fully
// containing) a higher-scoring one, across labels.
func eliminateNested(cands []Candidate, cushion int) []Candidate {
	drop := make([]bool, len(cands))
	for i := range cands {
		if drop[i] {
			continue
		}
		for j := range cands {
			if i == j || drop[j] {
				continue
			}
			nested := geometry.Contains(cands[i].Rect, cands[j].Rect, cushion) ||
				geometry.Contains(cands[j].Rect, cands[i].Rect, cushion)
			if !nested {
				continue
			}
			if cands[i].Score >= cands[j].Score {
				drop[j] = true
			} else {
				drop[i] = true
				break
			}
		}
	}

	var kept []Candidate
	for i, c := range cands {
		if !drop[i] {
			kept = append(kept, c)
		}
	}
	return kept
}

func filterNoise(cands []Candidate, imgWidth, imgHeight int, opts Options) []Candidate {
	minArea := opts.MinAreaFrac * float64(imgWidth) * float64(imgHeight)
	minDim := imgWidth
	if imgHeight < minDim {
		minDim = imgHeight
	}
	minSide := opts.MinSideFrac * float64(minDim)

	var kept []Candidate
	for _, c := range cands {
		if float64(geometry.Area(c.Rect)) < minArea {
			continue
		}
		shorter := c.Rect.Width()
		if c.Rect.Height() < shorter {
			shorter = c.Rect.Height()
		}
		if float64(shorter) < minSide {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func newRegionID() string {
	return "box-" + uuid.NewString()[:8]
}
