package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foodlens/foodlens/internal/server"
	"github.com/foodlens/foodlens/internal/utils"
	"github.com/foodlens/foodlens/pkg/cache"
	"github.com/foodlens/foodlens/pkg/catalog"
	"github.com/foodlens/foodlens/pkg/detect"
	"github.com/foodlens/foodlens/pkg/ocr"
	"github.com/foodlens/foodlens/pkg/scan"
)

var (
	serveHost        string
	servePort        string
	serveConcurrency int
	serveMinScore    float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scan API server",
	Long:  "Start an HTTP server exposing the streaming scan endpoint plus catalog search and lookup",
	RunE:  runServe,
}

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Host to bind the server to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to run the server on")
	serveCmd.Flags().IntVar(&serveConcurrency, "concurrency", scan.DefaultConcurrency, "Worker pool size per scan request")
	serveCmd.Flags().Float64Var(&serveMinScore, "min-score", scan.DefaultMinScore, "Minimum detection confidence")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pipeline, resolver, cleanup, err := buildPipeline(ctx)
	if err != nil {
		utils.ExitOnError("unable to initialize external services", err)
	}
	defer cleanup()
	pipeline.Concurrency = serveConcurrency
	pipeline.MinScore = serveMinScore

	addr := fmt.Sprintf("%s:%s", serveHost, servePort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.New(pipeline, resolver).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting scan API server", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return utils.MaskSensitiveError(err)
	case sig := <-stop:
		slog.Info("Shutting down", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// buildPipeline wires the external services the scan pipeline depends on.
// The returned cleanup closes all of their connections.
func buildPipeline(ctx context.Context) (*scan.Pipeline, *catalog.Resolver, func(), error) {
	var closers []func() error
	cleanup := func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				slog.Warn("cleanup failed", "err", utils.MaskSensitiveError(err))
			}
		}
	}

	var store cache.Store
	if redisStore := cache.NewRedisStoreFromEnv(); redisStore != nil {
		if err := redisStore.Ping(ctx); err != nil {
			slog.Warn("redis unreachable at startup, caching disabled until it recovers", "err", err)
		}
		store = redisStore
		closers = append(closers, redisStore.Close)
	} else {
		slog.Info("REDIS_ADDR not set, caching disabled")
	}
	resolver := catalog.NewResolver(catalog.NewClient(), cache.New(store))

	localizer, err := detect.NewVisionLocalizer(ctx)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("creating object localizer: %w", utils.MaskSensitiveError(err))
	}
	closers = append(closers, localizer.Close)

	recognizer, err := ocr.NewVisionRecognizer(ctx)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("creating text recognizer: %w", utils.MaskSensitiveError(err))
	}
	closers = append(closers, recognizer.Close)

	gateway := detect.NewGateway(detect.NewHuggingFaceDetector(), localizer)
	pipeline := scan.NewPipeline(gateway, recognizer, resolver)
	return pipeline, resolver, cleanup, nil
}
