package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/harvest/api"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/coordinator"
	"github.com/use-agent/harvest/extractor"
	"github.com/use-agent/harvest/formatter"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/storage"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	initLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	client := extractor.NewClient(cfg.Extractor)
	store := session.New(cfg.Session.MaxEntries, cfg.Session.TTL)
	coord := coordinator.New(client, cfg.Extractor.PollInterval, store)

	fm := &formatter.Formatter{
		Signer:     buildSigner(cfg.Storage),
		Fetcher:    client,
		HTTPClient: &http.Client{Timeout: cfg.Extractor.HTTPTimeout},
	}

	s := server.NewMCPServer(
		"harvest",
		version,
		server.WithToolCapabilities(false),
	)

	scrapeTool := mcp.NewTool("scrape",
		mcp.WithDescription("Submit a natural-language scraping request to the extraction service, wait for the job to finish, and return the result in the requested format."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Natural-language description of what to scrape and extract"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'markdown' (default), 'html', 'json' (structured data), 'csv', 'xml', 'screenshot', or 'quick' (prose + screenshot URL + status in one object)"),
			mcp.Enum("markdown", "html", "json", "csv", "xml", "screenshot", "quick"),
		),
	)
	s.AddTool(scrapeTool, handleScrape(coord, fm))

	screenshotTool := mcp.NewTool("screenshot",
		mcp.WithDescription("Submit a screenshot capture job for a URL. Fire-and-forget: returns a session acknowledgement immediately; fetch the image later via the result endpoint."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to capture"),
		),
	)
	s.AddTool(screenshotTool, handleScreenshot(client, cfg))

	if cfg.Server.Enabled {
		router := api.NewRouter(store, client, fm, cfg, time.Now())
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		go func() {
			slog.Info("materialization server listening", "addr", addr)
			if err := http.ListenAndServe(addr, router); err != nil {
				slog.Error("materialization server error", "error", err)
			}
		}()
	}

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleScrape(coord *coordinator.Coordinator, fm *formatter.Formatter) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := request.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError("prompt is required"), nil
		}

		format, err := models.ParseFormat(request.GetString("format", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		req := models.NewExtractionRequest(prompt, format)
		payload, err := coord.Resolve(ctx, req, progressSink(ctx, request))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %v", models.CodeOf(err), err)), nil
		}

		rendered, err := fm.Render(ctx, req.SessionID, payload, format)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %v", models.CodeOf(err), err)), nil
		}

		if strings.HasPrefix(rendered.MediaType, "image/") {
			encoded := base64.StdEncoding.EncodeToString(rendered.Body)
			return mcp.NewToolResultImage("screenshot for session "+req.SessionID, encoded, rendered.MediaType), nil
		}
		return mcp.NewToolResultText(string(rendered.Body)), nil
	}
}

func handleScreenshot(client *extractor.Client, cfg *config.Config) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pageURL, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		sessionID := uuid.NewString()
		ack, err := client.Screenshot(ctx, pageURL, sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %v", models.CodeOf(err), err)), nil
		}

		var sb strings.Builder
		sb.WriteString("screenshot job submitted\n")
		sb.WriteString("session: " + sessionID + "\n")
		if ack.JobID != "" {
			sb.WriteString("job: " + ack.JobID + "\n")
		}
		if cfg.Server.Enabled {
			sb.WriteString(fmt.Sprintf("fetch: http://%s:%d/api/v1/result?session=%s&format=screenshot\n",
				cfg.Server.Host, cfg.Server.Port, sessionID))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// progressSink bridges coordinator progress to MCP progress
// notifications on the originating request's stream. Requests without a
// progress token get a no-op sink.
func progressSink(ctx context.Context, request mcp.CallToolRequest) coordinator.ProgressSink {
	srv := server.ServerFromContext(ctx)
	if srv == nil || request.Params.Meta == nil || request.Params.Meta.ProgressToken == nil {
		return nil
	}
	token := request.Params.Meta.ProgressToken

	return coordinator.SinkFunc(func(ctx context.Context, progress, total float64) {
		// Fire-and-forget: a failed notification never fails the job.
		_ = srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
			"progressToken": token,
			"progress":      progress,
			"total":         total,
		})
	})
}

// initLogger configures slog based on the LogConfig. Logs go to stderr:
// stdout belongs to the MCP stdio transport.
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

// buildSigner picks the S3 presigner when storage is configured, and
// falls back to passthrough resolution of absolute URLs otherwise.
func buildSigner(cfg config.StorageConfig) formatter.Signer {
	if cfg.Bucket == "" {
		return storage.Passthrough{}
	}
	signer, err := storage.NewPresigner(context.Background(), cfg)
	if err != nil {
		slog.Warn("storage signer unavailable, falling back to passthrough", "error", err)
		return storage.Passthrough{}
	}
	return signer
}
