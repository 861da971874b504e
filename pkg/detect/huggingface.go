package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/foodlens/foodlens/pkg/geometry"
	"github.com/foodlens/foodlens/pkg/imgutil"
	"github.com/foodlens/foodlens/pkg/merge"
)

const defaultHFEndpoint = "https://api-inference.huggingface.co/models/google/owlvit-base-patch32"

// LabelVocabulary is the fixed set of prompts sent to the zero-shot
// detector. The prompts describe packaged food items rather than foods
// themselves so the boxes land on whole packages.
var LabelVocabulary = []string{
	"packaged food item",
	"bottle",
	"can",
	"cardboard box",
	"jar",
	"carton",
	"snack bag",
	"bag of chips",
	"cereal box",
	"yogurt cup",
	"chocolate bar",
	"milk carton",
	"juice box",
	"plastic tub",
}

// HuggingFaceDetector calls a hosted zero-shot object detection model. It is
// the primary detector: it understands the label vocabulary but the hosted
// model may need a warm-up, signalled by a 503 with an estimated wait.
type HuggingFaceDetector struct {
	Endpoint string
	Token    string
	Labels   []string
	Client   *http.Client

	// MaxRetries bounds how many warming-up responses are waited out.
	MaxRetries int
	// MaxWarmupWait caps each individual warm-up wait.
	MaxWarmupWait time.Duration
}

// NewHuggingFaceDetector builds a detector from HF_DETECTOR_URL and
// HF_API_TOKEN, falling back to the public inference endpoint.
func NewHuggingFaceDetector() *HuggingFaceDetector {
	endpoint := os.Getenv("HF_DETECTOR_URL")
	if endpoint == "" {
		endpoint = defaultHFEndpoint
	}
	return &HuggingFaceDetector{
		Endpoint:      endpoint,
		Token:         os.Getenv("HF_API_TOKEN"),
		Labels:        LabelVocabulary,
		Client:        &http.Client{Timeout: 60 * time.Second},
		MaxRetries:    2,
		MaxWarmupWait: 8 * time.Second,
	}
}

type hfRequest struct {
	Inputs     hfInputs     `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfInputs struct {
	Image string `json:"image"`
}

type hfParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
}

type hfDetection struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
	Box   struct {
		XMin int `json:"xmin"`
		YMin int `json:"ymin"`
		XMax int `json:"xmax"`
		YMax int `json:"ymax"`
	} `json:"box"`
}

type hfError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// Detect sends the image with its label prompts and returns candidates at or
// above minScore. A "model is loading" response is retried a bounded number
// of times with a capped wait; any other failure propagates.
func (d *HuggingFaceDetector) Detect(ctx context.Context, img image.Image, minScore float64) ([]merge.Candidate, error) {
	data, err := imgutil.EncodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode detector input: %w", err)
	}

	labels := d.Labels
	if len(labels) == 0 {
		labels = LabelVocabulary
	}
	payload, err := json.Marshal(hfRequest{
		Inputs:     hfInputs{Image: base64.StdEncoding.EncodeToString(data)},
		Parameters: hfParameters{CandidateLabels: labels},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detector request: %w", err)
	}

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if d.Token != "" {
			req.Header.Set("Authorization", "Bearer "+d.Token)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("detector request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read detector response: %w", err)
		}

		if resp.StatusCode == http.StatusServiceUnavailable {
			var apiErr hfError
			if json.Unmarshal(body, &apiErr) == nil && isWarmingUp(apiErr) && attempt < d.MaxRetries {
				if err := d.waitForWarmup(ctx, apiErr.EstimatedTime); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("detector unavailable: %d - %s", resp.StatusCode, truncateBody(body))
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("detector API error: %d - %s", resp.StatusCode, truncateBody(body))
		}

		var detections []hfDetection
		if err := json.Unmarshal(body, &detections); err != nil {
			return nil, fmt.Errorf("failed to parse detector response: %w - body: %s", err, truncateBody(body))
		}

		var cands []merge.Candidate
		for _, det := range detections {
			if det.Score < minScore {
				continue
			}
			cands = append(cands, merge.Candidate{
				Label:  det.Label,
				Score:  det.Score,
				Source: "huggingface",
				Rect: geometry.Rect{
					Left:   det.Box.XMin,
					Top:    det.Box.YMin,
					Right:  det.Box.XMax,
					Bottom: det.Box.YMax,
				},
			})
		}
		return cands, nil
	}
}

func (d *HuggingFaceDetector) waitForWarmup(ctx context.Context, estimatedSeconds float64) error {
	wait := time.Duration(estimatedSeconds * float64(time.Second))
	maxWait := d.MaxWarmupWait
	if maxWait <= 0 {
		maxWait = 8 * time.Second
	}
	if wait <= 0 || wait > maxWait {
		wait = maxWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isWarmingUp(e hfError) bool {
	return strings.Contains(strings.ToLower(e.Error), "loading")
}

// truncateBody keeps error logs readable while still providing context.
func truncateBody(body []byte) string {
	const limit = 500
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "... (truncated)"
	}
	return s
}
