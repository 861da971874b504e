package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/foodlens/foodlens/pkg/catalog"
	"github.com/foodlens/foodlens/pkg/detect"
	"github.com/foodlens/foodlens/pkg/geometry"
	"github.com/foodlens/foodlens/pkg/merge"
	"github.com/foodlens/foodlens/pkg/scan"
	"github.com/foodlens/foodlens/pkg/textparse"
)

type fixedDetector struct {
	cands []merge.Candidate
}

func (d *fixedDetector) Detect(context.Context, image.Image, float64) ([]merge.Candidate, error) {
	return d.cands, nil
}

type fixedRecognizer struct{ text string }

func (r *fixedRecognizer) Recognize(context.Context, image.Image, []string) (string, error) {
	return r.text, nil
}

type fixedResolver struct{ match catalog.Match }

func (r *fixedResolver) Resolve(context.Context, textparse.ParsedText, []string) catalog.Match {
	return r.match
}

func testServer(t *testing.T, offURL string) *Server {
	t.Helper()

	pipeline := scan.NewPipeline(
		detect.NewGateway(&fixedDetector{cands: []merge.Candidate{{
			Label: "packaged food",
			Score: 0.9,
			Rect:  geometry.Rect{Left: 100, Top: 100, Right: 400, Bottom: 400},
		}}}, nil),
		&fixedRecognizer{text: "GAMESA\nGalletas Marias\n500 g"},
		&fixedResolver{match: catalog.Match{
			Product:    &catalog.Product{Code: "750", Name: "Galletas Marias"},
			Confidence: 0.7,
			Source:     catalog.SourceSearch,
		}},
	)

	client := &catalog.Client{
		BaseURL:    offURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
	return New(pipeline, catalog.NewResolver(client, nil))
}

func multipartImage(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 800, 600))
	var imgBuf bytes.Buffer
	if err := png.Encode(&imgBuf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "shelf.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(imgBuf.Bytes())
	for key, value := range fields {
		writer.WriteField(key, value)
	}
	writer.Close()
	return &body, writer.FormDataContentType()
}

func TestScanStreamsEvents(t *testing.T) {
	srv := httptest.NewServer(testServer(t, "http://unused.invalid").Router())
	defer srv.Close()

	body, contentType := multipartImage(t, map[string]string{"lang": "es+en"})
	resp, err := http.Post(srv.URL+"/api/scan", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/scan: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q, want application/x-ndjson", ct)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) < 3 {
		t.Fatalf("stream carried %d lines, want at least image/boxes/done", len(lines))
	}

	var first, last map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("last line: %v", err)
	}
	if first["type"] != "image" {
		t.Errorf("first event = %v, want image", first["type"])
	}
	if last["type"] != "done" {
		t.Errorf("last event = %v, want done", last["type"])
	}
}

func TestScanRequiresImage(t *testing.T) {
	srv := httptest.NewServer(testServer(t, "http://unused.invalid").Router())
	defer srv.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.WriteField("lang", "es")
	writer.Close()

	resp, err := http.Post(srv.URL+"/api/scan", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("error body: %v", err)
	}
	if payload["error"] == "" {
		t.Error("missing error message in response")
	}
}

func TestScanRejectsUndecodableImage(t *testing.T) {
	srv := httptest.NewServer(testServer(t, "http://unused.invalid").Router())
	defer srv.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "not-an-image.bin")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("this is not image data"))
	writer.Close()

	resp, err := http.Post(srv.URL+"/api/scan", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Input validation rejects before any stream is opened.
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("error body: %v", err)
	}
	if payload["error"] == "" {
		t.Error("missing error message in response")
	}
}

func TestScanRejectsBadFocus(t *testing.T) {
	srv := httptest.NewServer(testServer(t, "http://unused.invalid").Router())
	defer srv.Close()

	for _, focus := range []string{"not json", `[{"x":2,"y":0.5}]`} {
		body, contentType := multipartImage(t, map[string]string{"focus": focus})
		resp, err := http.Post(srv.URL+"/api/scan", contentType, body)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("focus %q: status = %d, want 400", focus, resp.StatusCode)
		}
	}
}

func TestSearchRoutesBarcodesToLookup(t *testing.T) {
	var lookups, searches int
	off := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/v2/product/") {
			lookups++
			w.Write([]byte(`{"status":1,"product":{"code":"7501000111114","product_name":"Galletas"}}`))
			return
		}
		searches++
		w.Write([]byte(`{"products":[{"code":"1","product_name":"Cereal"}]}`))
	}))
	defer off.Close()

	srv := httptest.NewServer(testServer(t, off.URL).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/search?q=7501000111114")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || lookups != 1 || searches != 0 {
		t.Errorf("barcode query: status=%d lookups=%d searches=%d", resp.StatusCode, lookups, searches)
	}

	resp, err = http.Get(srv.URL + "/api/search?q=cereal")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || searches != 1 {
		t.Errorf("text query: status=%d searches=%d", resp.StatusCode, searches)
	}
	var payload struct {
		Products []catalog.Product `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Products) != 1 {
		t.Errorf("products = %d, want 1", len(payload.Products))
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	srv := httptest.NewServer(testServer(t, "http://unused.invalid").Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/search")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProductEndpoint(t *testing.T) {
	off := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "404") {
			w.Write([]byte(`{"status":0}`))
			return
		}
		w.Write([]byte(`{"status":1,"product":{"code":"7501000111114","product_name":"Galletas"}}`))
	}))
	defer off.Close()

	srv := httptest.NewServer(testServer(t, off.URL).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/product/7501000111114")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var product catalog.Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		t.Fatal(err)
	}
	if product.Name != "Galletas" {
		t.Errorf("name = %q", product.Name)
	}

	for path, want := range map[string]int{
		"/api/product/abc":      http.StatusBadRequest,
		"/api/product/40400404": http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s: status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(testServer(t, "http://unused.invalid").Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
