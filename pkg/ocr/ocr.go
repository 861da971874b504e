// Package ocr wraps the external text recognition service consumed by the
// scan pipeline.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	vision "cloud.google.com/go/vision/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/foodlens/foodlens/pkg/imgutil"
)

// MaxLanguageHints caps how many hints are passed to the recognizer.
const MaxLanguageHints = 4

// DefaultLanguages are used when the caller supplies no usable hint.
var DefaultLanguages = []string{"es", "en"}

// Recognizer extracts raw text from an image. Failures are region-scoped in
// the pipeline; implementations should not retry.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, langs []string) (string, error)
}

// VisionRecognizer recognizes package text with Google Vision document text
// detection.
type VisionRecognizer struct {
	client *vision.ImageAnnotatorClient
}

// NewVisionRecognizer builds a recognizer using ambient Google credentials.
func NewVisionRecognizer(ctx context.Context) (*VisionRecognizer, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return &VisionRecognizer{client: client}, nil
}

// Recognize runs document text detection over the crop with the given
// language hints and returns the raw recognized text.
func (r *VisionRecognizer) Recognize(ctx context.Context, img image.Image, langs []string) (string, error) {
	data, err := imgutil.EncodeJPEG(img)
	if err != nil {
		return "", fmt.Errorf("failed to encode recognizer input: %w", err)
	}

	vimg, err := vision.NewImageFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build vision image: %w", err)
	}

	var ictx *visionpb.ImageContext
	if len(langs) > 0 {
		ictx = &visionpb.ImageContext{LanguageHints: langs}
	}

	annotation, err := r.client.DetectDocumentText(ctx, vimg, ictx)
	if err != nil {
		return "", fmt.Errorf("text recognition failed: %w", err)
	}
	if annotation == nil {
		return "", nil
	}
	return annotation.GetText(), nil
}

// Close releases the underlying client connection.
func (r *VisionRecognizer) Close() error {
	return r.client.Close()
}

// languageCodes maps caller-supplied language names to recognizer codes.
var languageCodes = map[string]string{
	"es":         "es",
	"spanish":    "es",
	"espanol":    "es",
	"español":    "es",
	"castellano": "es",
	"en":         "en",
	"english":    "en",
	"ingles":     "en",
	"inglés":     "en",
	"fr":         "fr",
	"french":     "fr",
	"frances":    "fr",
	"francés":    "fr",
	"pt":         "pt",
	"portuguese": "pt",
	"portugues":  "pt",
	"português":  "pt",
	"de":         "de",
	"german":     "de",
	"aleman":     "de",
	"alemán":     "de",
	"it":         "it",
	"italian":    "it",
	"italiano":   "it",
	"ca":         "ca",
	"catalan":    "ca",
	"catalán":    "ca",
}

// LanguageHints parses a caller-supplied language parameter (delimited by
// `+`, `,`, or spaces) into recognizer language codes. Unknown values are
// dropped; an empty result falls back to the defaults. At most
// MaxLanguageHints codes are returned.
func LanguageHints(lang string) []string {
	fields := strings.FieldsFunc(lang, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})

	var hints []string
	seen := make(map[string]bool)
	for _, f := range fields {
		code, ok := languageCodes[strings.ToLower(strings.TrimSpace(f))]
		if !ok || seen[code] {
			continue
		}
		seen[code] = true
		hints = append(hints, code)
		if len(hints) == MaxLanguageHints {
			break
		}
	}

	if len(hints) == 0 {
		return append([]string(nil), DefaultLanguages...)
	}
	return hints
}
