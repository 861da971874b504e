package scan

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foodlens/foodlens/pkg/catalog"
	"github.com/foodlens/foodlens/pkg/detect"
	"github.com/foodlens/foodlens/pkg/imgutil"
	"github.com/foodlens/foodlens/pkg/merge"
	"github.com/foodlens/foodlens/pkg/ocr"
	"github.com/foodlens/foodlens/pkg/textparse"
)

const (
	// DefaultConcurrency caps the per-request worker pool.
	DefaultConcurrency = 3

	// DefaultMinScore is the detection confidence floor.
	DefaultMinScore = 0.2

	// MaxFocusPoints bounds how many focus refinements one request may ask
	// for.
	MaxFocusPoints = 6

	// previewMaxSide bounds the inline preview sent in the image event.
	previewMaxSide = 640
)

// Options carry the per-request knobs.
type Options struct {
	// Lang is the caller's language hint string ("es+en", "spanish", ...).
	Lang string

	// Focus asks for incremental re-detection around up to MaxFocusPoints
	// normalized points instead of accepting the first detection pass
	// as-is.
	Focus []detect.FocusPoint
}

// Resolver matches parsed label text against the product catalog.
type Resolver interface {
	Resolve(ctx context.Context, parsed textparse.ParsedText, queries []string) catalog.Match
}

// Pipeline wires the detection gateway, the OCR service, the text parser and
// the catalog resolver into one streaming scan.
type Pipeline struct {
	Gateway     *detect.Gateway
	OCR         ocr.Recognizer
	Parser      *textparse.Parser
	Resolver    Resolver
	Concurrency int
	MinScore    float64
}

// NewPipeline builds a pipeline with default concurrency and score floor.
func NewPipeline(gateway *detect.Gateway, recognizer ocr.Recognizer, resolver Resolver) *Pipeline {
	return &Pipeline{
		Gateway:     gateway,
		OCR:         recognizer,
		Parser:      textparse.NewParser(),
		Resolver:    resolver,
		Concurrency: DefaultConcurrency,
		MinScore:    DefaultMinScore,
	}
}

// Run scans one decoded image and streams events to w. Callers validate and
// decode the upload before the stream opens. The returned error reports
// fatal request-level failures only; per-region failures are downgraded to
// region events and never abort the stream.
func (p *Pipeline) Run(ctx context.Context, img image.Image, opts Options, w io.Writer) error {
	scansTotal.Inc()
	timer := prometheus.NewTimer(scanDuration)
	defer timer.ObserveDuration()

	em := NewEmitter(w)
	bounds := img.Bounds()

	preview, err := imgutil.InlineJPEG(img, previewMaxSide)
	if err != nil {
		slog.Warn("unable to build preview image", "err", err)
	}
	em.Emit(ImageEvent{
		Type:   TypeImage,
		Image:  preview,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	})

	result, err := p.Gateway.Detect(ctx, img, p.minScore())
	if err != nil {
		em.Emit(ErrorEvent{Type: TypeError, Message: "product detection is unavailable right now"})
		return fmt.Errorf("detecting regions: %w", err)
	}
	regions := result.Regions

	for i, pt := range opts.Focus {
		if i == MaxFocusPoints {
			break
		}
		extra, err := p.Gateway.Refine(ctx, img, regions, pt, p.minScore())
		if err != nil {
			slog.Warn("focus refinement failed", "point", pt, "err", err)
			continue
		}
		regions = append(regions, extra...)
	}

	if len(regions) == 0 {
		em.Emit(NoProductsEvent{Type: TypeNoProducts, Message: "No products were found in this photo."})
		em.Emit(DoneEvent{Type: TypeDone})
		return nil
	}

	em.Emit(p.boxesEvent(regions, result.DetectionCount))

	for i, region := range regions {
		em.EmitStatus(i, StatusPending, ProgressEvent{
			Type:        TypeProgress,
			Index:       i,
			Status:      StatusPending,
			Score:       region.Score,
			Prompt:      region.Label,
			BoxID:       region.ID,
			BoundingBox: region.Norm,
		})
	}

	langs := ocr.LanguageHints(opts.Lang)

	workers := p.concurrency()
	if workers > len(regions) {
		workers = len(regions)
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(regions) {
					return
				}
				p.processRegion(ctx, em, img, idx, regions[idx], langs)
			}
		}()
	}
	wg.Wait()

	em.Emit(DoneEvent{Type: TypeDone})
	return nil
}

// processRegion owns one region's full lifecycle. Panics and failures are
// confined to the region: the worst outcome is a terminal error event for
// this index.
func (p *Pipeline) processRegion(ctx context.Context, em *Emitter, img image.Image, idx int, region merge.Region, langs []string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("region processing panicked", "index", idx, "panic", r)
			p.terminal(em, idx, ProductEvent{
				Type:    TypeProduct,
				Index:   idx,
				Status:  StatusError,
				Message: "Something went wrong while reading this product.",
			})
		}
	}()

	em.EmitStatus(idx, StatusProcessing, ProgressEvent{
		Type:        TypeProgress,
		Index:       idx,
		Status:      StatusProcessing,
		Score:       region.Score,
		Prompt:      region.Label,
		BoxID:       region.ID,
		BoundingBox: region.Norm,
	})

	crop, err := imgutil.Crop(img, region.Rect)
	if err != nil {
		slog.Warn("crop failed", "index", idx, "err", err)
		p.terminal(em, idx, ProductEvent{
			Type:    TypeProduct,
			Index:   idx,
			Status:  StatusError,
			Message: "Could not isolate this product in the photo.",
		})
		return
	}

	text, err := p.OCR.Recognize(ctx, imgutil.Preprocess(crop), langs)
	if err != nil {
		slog.Warn("text recognition failed", "index", idx, "err", err)
		p.terminal(em, idx, ProductEvent{
			Type:    TypeProduct,
			Index:   idx,
			Status:  StatusError,
			Message: "Could not read any text on this product.",
		})
		return
	}

	lines := p.Parser.CleanLines(text)
	if p.Parser.LowQuality(lines) {
		p.terminal(em, idx, ProductEvent{
			Type:    TypeProduct,
			Index:   idx,
			Status:  StatusLowOCR,
			Message: "The label text was too faint to read.",
		})
		return
	}

	parsed := p.Parser.Parse(text)
	queries := textparse.BuildQueries(parsed)

	match := p.Resolver.Resolve(ctx, parsed, queries)
	p.terminal(em, idx, p.productEvent(idx, parsed, queries, match))
}

func (p *Pipeline) terminal(em *Emitter, idx int, event ProductEvent) {
	regionsTerminal.WithLabelValues(string(event.Status)).Inc()
	em.EmitStatus(idx, event.Status, event)
}

func (p *Pipeline) productEvent(idx int, parsed textparse.ParsedText, queries []string, match catalog.Match) ProductEvent {
	event := ProductEvent{
		Type:             TypeProduct,
		Index:            idx,
		Barcode:          parsed.Barcode,
		BrandCandidate:   parsed.Brand,
		ProductCandidate: parsed.ProductName,
		Keywords:         parsed.Keywords,
		Attributes:       parsed.Attributes,
		SearchCandidates: queries,
	}

	if match.Product == nil {
		event.Status = StatusNoMatch
		event.Message = "No catalog match was found for this product."
		event.OffSource = string(catalog.SourceNone)
		event.OffAlternatives = alternatives(match.Alternatives)
		return event
	}

	event.Status = StatusReady
	event.Title = title(*match.Product, parsed)
	event.OffImage = match.Product.ImageURL
	event.OffLink = match.Product.Link
	event.Code = match.Product.Code
	event.OffConfidence = clampUnit(match.Confidence)
	event.OffSource = string(match.Source)
	event.OffAlternatives = alternatives(match.Alternatives)
	return event
}

func alternatives(products []catalog.Product) []Alternative {
	if len(products) == 0 {
		return nil
	}
	alts := make([]Alternative, 0, len(products))
	for _, p := range products {
		alts = append(alts, Alternative{
			Code:   p.Code,
			Name:   p.Name,
			Brands: p.Brands,
			Link:   p.Link,
		})
	}
	return alts
}

func title(product catalog.Product, parsed textparse.ParsedText) string {
	if product.Name != "" {
		return product.Name
	}
	joined := strings.TrimSpace(parsed.Brand + " " + parsed.ProductName)
	if joined != "" {
		return joined
	}
	return product.Code
}

func (p *Pipeline) boxesEvent(regions []merge.Region, detectionCount int) BoxesEvent {
	boxes := make([]Box, 0, len(regions))
	for _, region := range regions {
		boxes = append(boxes, Box{
			ID:    region.ID,
			Label: region.Label,
			Score: region.Score,
			Box:   region.Norm,
		})
	}
	return BoxesEvent{
		Type:           TypeBoxes,
		Boxes:          boxes,
		DetectionCount: detectionCount,
	}
}

func (p *Pipeline) concurrency() int {
	if p.Concurrency > 0 {
		return p.Concurrency
	}
	return DefaultConcurrency
}

func (p *Pipeline) minScore() float64 {
	if p.MinScore > 0 {
		return p.MinScore
	}
	return DefaultMinScore
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
