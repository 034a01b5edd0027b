package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/coordinator"
	"github.com/use-agent/harvest/extractor"
	"github.com/use-agent/harvest/formatter"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/storage"
)

// harvest runs one extraction end to end: submit, poll with progress
// logged to stderr, render, write the body to stdout or a file.
func main() {
	var (
		prompt  = flag.String("prompt", "", "natural-language scraping request (required)")
		format  = flag.String("format", "markdown", "output format: markdown|html|json|csv|xml|screenshot|quick")
		outPath = flag.String("o", "", "write the rendered body to this file instead of stdout")
	)
	flag.Parse()

	cfg := config.Load()
	initLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "-prompt is required")
		flag.Usage()
		os.Exit(2)
	}

	f, err := models.ParseFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := extractor.NewClient(cfg.Extractor)
	coord := coordinator.New(client, cfg.Extractor.PollInterval, nil)
	fm := &formatter.Formatter{
		Signer:     buildSigner(ctx, cfg.Storage),
		Fetcher:    client,
		HTTPClient: &http.Client{Timeout: cfg.Extractor.HTTPTimeout},
	}

	req := models.NewExtractionRequest(*prompt, f)
	slog.Info("extraction submitted", "session", req.SessionID, "format", f)

	sink := coordinator.SinkFunc(func(_ context.Context, progress, total float64) {
		slog.Info("extraction progress", "session", req.SessionID, "progress", progress, "total", total)
	})

	payload, err := coord.Resolve(ctx, req, sink)
	if err != nil {
		slog.Error("extraction failed", "session", req.SessionID, "error", err)
		os.Exit(1)
	}

	rendered, err := fm.Render(ctx, req.SessionID, payload, f)
	if err != nil {
		slog.Error("render failed", "session", req.SessionID, "error", err)
		os.Exit(1)
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, rendered.Body, 0o644); err != nil {
			slog.Error("write output", "path", *outPath, "error", err)
			os.Exit(1)
		}
		slog.Info("result written", "path", *outPath, "mediaType", rendered.MediaType, "bytes", len(rendered.Body))
		return
	}

	os.Stdout.Write(rendered.Body)
}

func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func buildSigner(ctx context.Context, cfg config.StorageConfig) formatter.Signer {
	if cfg.Bucket == "" {
		return storage.Passthrough{}
	}
	signer, err := storage.NewPresigner(ctx, cfg)
	if err != nil {
		slog.Warn("storage signer unavailable, falling back to passthrough", "error", err)
		return storage.Passthrough{}
	}
	return signer
}
