// Package server exposes the scan pipeline and catalog lookups over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foodlens/foodlens/pkg/catalog"
	"github.com/foodlens/foodlens/pkg/detect"
	"github.com/foodlens/foodlens/pkg/imgutil"
	"github.com/foodlens/foodlens/pkg/scan"
)

// MaxUploadBytes bounds the multipart image payload.
const MaxUploadBytes = 20 << 20

var eanPattern = regexp.MustCompile(`^\d{8,14}$`)

// Server routes scan and catalog requests.
type Server struct {
	Pipeline *scan.Pipeline
	Resolver *catalog.Resolver
}

func New(pipeline *scan.Pipeline, resolver *catalog.Resolver) *Server {
	return &Server{Pipeline: pipeline, Resolver: resolver}
}

// Router builds the HTTP mux.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/scan", s.handleScan)
	r.Get("/api/search", s.handleSearch)
	r.Get("/api/product/{code}", s.handleProduct)

	return r
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart form with an image field")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read the uploaded image")
		return
	}

	img, _, err := imgutil.Decode(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not decode the uploaded image")
		return
	}

	opts := scan.Options{Lang: r.FormValue("lang")}
	if raw := r.FormValue("focus"); raw != "" {
		focus, err := parseFocus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Focus = focus
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := s.Pipeline.Run(r.Context(), img, opts, w); err != nil {
		// The stream already carried a terminal error event.
		slog.Error("scan failed", "err", err)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}

	ctx := r.Context()
	if eanPattern.MatchString(query) {
		product, err := s.Resolver.CachedLookup(ctx, query)
		if err != nil {
			writeError(w, http.StatusBadGateway, "catalog lookup failed")
			return
		}
		writeJSON(w, map[string]any{"product": product})
		return
	}

	products, err := s.Resolver.CachedSearch(ctx, query)
	if err != nil {
		writeError(w, http.StatusBadGateway, "catalog search failed")
		return
	}
	writeJSON(w, map[string]any{"products": products})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !eanPattern.MatchString(code) {
		writeError(w, http.StatusBadRequest, "code must be 8 to 14 digits")
		return
	}

	product, err := s.Resolver.CachedLookup(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusBadGateway, "catalog lookup failed")
		return
	}
	if product == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, product)
}

func parseFocus(raw string) ([]detect.FocusPoint, error) {
	var points []detect.FocusPoint
	if err := json.Unmarshal([]byte(raw), &points); err != nil {
		return nil, errors.New("focus must be a JSON array of {x,y} points")
	}
	if len(points) > scan.MaxFocusPoints {
		points = points[:scan.MaxFocusPoints]
	}
	for _, pt := range points {
		if pt.X < 0 || pt.X > 1 || pt.Y < 0 || pt.Y > 1 {
			return nil, errors.New("focus points must lie in [0,1]")
		}
	}
	return points, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response write failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
