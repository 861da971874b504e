// Package scan runs the image-to-product pipeline: detect regions, read
// their labels, resolve each against the catalog, and stream progress to the
// caller as newline-delimited JSON events.
package scan

import (
	"github.com/foodlens/foodlens/pkg/geometry"
)

// Event types on the outbound stream.
const (
	TypeImage      = "image"
	TypeBoxes      = "boxes"
	TypeProgress   = "product-progress"
	TypeProduct    = "product"
	TypeNoProducts = "no-products"
	TypeError      = "error"
	TypeDone       = "done"
)

// Status values a region moves through. Each region sees pending, then
// processing, then exactly one terminal status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusNoMatch    Status = "no-match"
	StatusLowOCR     Status = "low-ocr"
	StatusError      Status = "error"
)

func (s Status) terminal() bool {
	switch s {
	case StatusReady, StatusNoMatch, StatusLowOCR, StatusError:
		return true
	}
	return false
}

// statusRank orders the per-index state machine; a lower rank may never
// follow a higher one.
func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	default:
		return 2
	}
}

// ImageEvent opens every stream with the decoded dimensions and an inline
// preview of the uploaded image.
type ImageEvent struct {
	Type   string `json:"type"`
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Box is one merged region as shown to the caller.
type Box struct {
	ID    string            `json:"id"`
	Label string            `json:"label"`
	Score float64           `json:"score"`
	Box   geometry.NormRect `json:"box"`
}

// BoxesEvent lists every region that will be processed, plus the raw
// detection count before merging.
type BoxesEvent struct {
	Type           string `json:"type"`
	Boxes          []Box  `json:"boxes"`
	DetectionCount int    `json:"detectionCount"`
}

// ProgressEvent reports a non-terminal status change for one region.
type ProgressEvent struct {
	Type        string            `json:"type"`
	Index       int               `json:"index"`
	Status      Status            `json:"status"`
	Score       float64           `json:"score"`
	Prompt      string            `json:"prompt"`
	BoxID       string            `json:"boxId"`
	BoundingBox geometry.NormRect `json:"boundingBox"`
}

// Alternative is a runner-up catalog candidate attached to a product event.
type Alternative struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Brands string `json:"brands,omitempty"`
	Link   string `json:"link,omitempty"`
}

// ProductEvent carries a region's terminal outcome.
type ProductEvent struct {
	Type             string        `json:"type"`
	Index            int           `json:"index"`
	Status           Status        `json:"status"`
	Title            string        `json:"title,omitempty"`
	OffImage         string        `json:"offImage,omitempty"`
	OffLink          string        `json:"offLink,omitempty"`
	Code             string        `json:"code,omitempty"`
	Barcode          string        `json:"barcode,omitempty"`
	OffConfidence    float64       `json:"offConfidence,omitempty"`
	OffSource        string        `json:"offSource,omitempty"`
	OffAlternatives  []Alternative `json:"offAlternatives,omitempty"`
	BrandCandidate   string        `json:"brandCandidate,omitempty"`
	ProductCandidate string        `json:"productCandidate,omitempty"`
	Keywords         []string      `json:"keywords,omitempty"`
	Attributes       []string      `json:"attributes,omitempty"`
	SearchCandidates []string      `json:"searchCandidates,omitempty"`
	Message          string        `json:"message,omitempty"`
}

// NoProductsEvent ends a stream that found nothing to process.
type NoProductsEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorEvent ends a stream that failed before any region work started.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DoneEvent closes every stream that opened a worker phase.
type DoneEvent struct {
	Type string `json:"type"`
}
