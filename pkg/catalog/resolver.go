package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/foodlens/foodlens/pkg/cache"
	"github.com/foodlens/foodlens/pkg/textparse"
)

// Source tells the caller how a match was established.
type Source string

const (
	SourceBarcode Source = "barcode"
	SourceSearch  Source = "search"
	SourceNone    Source = "none"
)

// Match is the outcome of resolving one product region.
type Match struct {
	Product      *Product
	Confidence   float64
	Source       Source
	Alternatives []Product
}

// Weights control the fuzzy search score. They must sum to 1 for the score
// to stay in [0, 1].
type Weights struct {
	Name    float64
	Brand   float64
	Keyword float64
}

// DefaultWeights favour the product name, then the brand, then category
// keywords.
func DefaultWeights() Weights {
	return Weights{Name: 0.6, Brand: 0.3, Keyword: 0.1}
}

const (
	// DefaultAcceptScore is the minimum fuzzy score accepted as a match.
	DefaultAcceptScore = 0.35

	// DefaultBarcodeConfidence is reported for barcode hits, which are
	// near-certain but can still suffer OCR digit errors.
	DefaultBarcodeConfidence = 0.95

	// MaxAlternatives bounds the runner-up list.
	MaxAlternatives = 3
)

// Resolver turns parsed label text into catalog matches. Lookups and
// searches go through the frequency-gated cache when one is configured.
type Resolver struct {
	Client            *Client
	Cache             *cache.Cache
	Weights           Weights
	AcceptScore       float64
	BarcodeConfidence float64
}

// NewResolver builds a resolver with the default scoring parameters.
func NewResolver(client *Client, c *cache.Cache) *Resolver {
	return &Resolver{
		Client:            client,
		Cache:             c,
		Weights:           DefaultWeights(),
		AcceptScore:       DefaultAcceptScore,
		BarcodeConfidence: DefaultBarcodeConfidence,
	}
}

// Resolve tries the barcode first, then works through the ranked queries
// until one yields an acceptable match. Catalog failures are logged and
// treated as empty results so a flaky catalog never sinks a region.
func (r *Resolver) Resolve(ctx context.Context, parsed textparse.ParsedText, queries []string) Match {
	if parsed.Barcode != "" {
		if m, ok := r.resolveBarcode(ctx, parsed.Barcode); ok {
			return m
		}
	}

	var scored []scoredProduct
	seen := map[string]bool{}
	for _, query := range queries {
		products, err := r.CachedSearch(ctx, query)
		if err != nil {
			slog.Warn("catalog search failed", "query", query, "err", err)
			continue
		}
		for _, p := range products {
			key := p.Code
			if key == "" {
				key = textparse.Normalize(p.Name)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			scored = append(scored, scoredProduct{
				product: p,
				score:   r.score(parsed, query, p),
			})
		}

		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].score > scored[j].score
		})
		if len(scored) > 0 && scored[0].score >= r.AcceptScore {
			// Good enough; the remaining queries are strictly
			// weaker formulations.
			break
		}
	}

	if len(scored) == 0 {
		return Match{Source: SourceNone}
	}

	alternatives := make([]Product, 0, MaxAlternatives)
	for _, sp := range scored[1:] {
		if len(alternatives) == MaxAlternatives {
			break
		}
		alternatives = append(alternatives, sp.product)
	}

	// The accept threshold only controls the early stop above. A best
	// candidate below it is still returned with its low score; source
	// none is reserved for searches where nothing scored above zero.
	best := scored[0]
	if best.score <= 0 {
		return Match{Source: SourceNone, Alternatives: alternatives}
	}
	product := best.product
	return Match{
		Product:      &product,
		Confidence:   clampScore(best.score),
		Source:       SourceSearch,
		Alternatives: alternatives,
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type scoredProduct struct {
	product Product
	score   float64
}

func (r *Resolver) resolveBarcode(ctx context.Context, code string) (Match, bool) {
	product, err := r.CachedLookup(ctx, code)
	if err != nil {
		slog.Warn("barcode lookup failed", "code", code, "err", err)
		return Match{}, false
	}
	if product == nil {
		return Match{}, false
	}
	return Match{
		Product:    product,
		Confidence: r.BarcodeConfidence,
		Source:     SourceBarcode,
	}, true
}

// CachedLookup is Lookup behind the frequency-gated cache.
func (r *Resolver) CachedLookup(ctx context.Context, code string) (*Product, error) {
	key := "product:" + textparse.Normalize(code)

	payload, freq := r.Cache.Read(ctx, key)
	if payload != nil {
		var p Product
		if err := json.Unmarshal(payload, &p); err == nil {
			return &p, nil
		}
		slog.Debug("discarding malformed cache entry", "key", key)
	}

	product, err := r.Client.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if product != nil {
		if payload, err := json.Marshal(product); err == nil {
			r.Cache.Write(ctx, key, payload, freq)
		}
	}
	return product, nil
}

// CachedSearch is Search behind the frequency-gated cache.
func (r *Resolver) CachedSearch(ctx context.Context, query string) ([]Product, error) {
	key := "search:" + textparse.Normalize(query)

	payload, freq := r.Cache.Read(ctx, key)
	if payload != nil {
		var products []Product
		if err := json.Unmarshal(payload, &products); err == nil {
			return products, nil
		}
		slog.Debug("discarding malformed cache entry", "key", key)
	}

	products, err := r.Client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(products); err == nil {
		r.Cache.Write(ctx, key, payload, freq)
	}
	return products, nil
}

// score combines name, brand and keyword similarity for one candidate.
func (r *Resolver) score(parsed textparse.ParsedText, query string, p Product) float64 {
	wanted := parsed.ProductName
	if wanted == "" {
		wanted = query
	}
	nameScore := textparse.TokenOverlap(textparse.Tokens(wanted), textparse.Tokens(p.Name))

	var brandScore float64
	if parsed.Brand != "" {
		brandScore = textparse.TokenOverlap(textparse.Tokens(parsed.Brand), textparse.Tokens(p.Brands))
	}

	var keywordScore float64
	if len(parsed.Keywords) > 0 {
		candidate := textparse.Categories(strings.TrimSpace(p.Name + " " + p.Brands))
		keywordScore = overlapFraction(parsed.Keywords, candidate)
	}

	return r.Weights.Name*nameScore + r.Weights.Brand*brandScore + r.Weights.Keyword*keywordScore
}

func overlapFraction(wanted, got []string) float64 {
	if len(wanted) == 0 {
		return 0
	}
	set := map[string]bool{}
	for _, g := range got {
		set[g] = true
	}
	matched := 0
	for _, w := range wanted {
		if set[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(wanted))
}
