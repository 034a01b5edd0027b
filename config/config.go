package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Extractor ExtractorConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Session   SessionConfig
	Log       LogConfig
}

// ExtractorConfig controls the remote extraction service client.
type ExtractorConfig struct {
	// BaseURL is the extraction service endpoint. Required.
	BaseURL string

	// APIKey authenticates against the extraction service. Required.
	APIKey string

	// PollInterval is the fixed delay between status polls.
	PollInterval time.Duration // default: 5s

	// HTTPTimeout is the per-request deadline for remote calls.
	HTTPTimeout time.Duration // default: 120s

	// RequestsPerSecond bounds outgoing calls to the remote service.
	RequestsPerSecond float64 // default: 5

	// Burst is the token-bucket burst size for outgoing calls.
	Burst int // default: 10
}

// ServerConfig controls the local materialization HTTP server.
type ServerConfig struct {
	// Enabled toggles the embedded HTTP server.
	Enabled bool // default: false

	Host string // default: "127.0.0.1"
	Port int    // default: 8090
	Mode string // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication on the local server.
type AuthConfig struct {
	// APIKeys is the list of keys accepted by the materialization
	// endpoint. Empty means open access (local-only deployments).
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting on the local server.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// StorageConfig controls screenshot reference signing.
type StorageConfig struct {
	// Bucket is the S3-compatible bucket holding captured screenshots.
	// When empty, only refs that are already absolute URLs resolve.
	Bucket string

	// Endpoint overrides the S3 endpoint (R2, MinIO, etc.).
	Endpoint string

	Region          string // default: "auto"
	AccessKeyID     string
	SecretAccessKey string

	// SignTTL is the lifetime of generated signed URLs.
	SignTTL time.Duration // default: 15m
}

// SessionConfig controls the in-memory session payload store.
type SessionConfig struct {
	// MaxEntries is the maximum number of retained payloads.
	MaxEntries int // default: 1000

	// TTL is how long a payload stays materializable.
	TTL time.Duration // default: 1h
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Extractor: ExtractorConfig{
			BaseURL:           os.Getenv("HARVEST_API_URL"),
			APIKey:            os.Getenv("HARVEST_API_KEY"),
			PollInterval:      envDurationOr("HARVEST_POLL_INTERVAL", 5*time.Second),
			HTTPTimeout:       envDurationOr("HARVEST_HTTP_TIMEOUT", 120*time.Second),
			RequestsPerSecond: envFloatOr("HARVEST_CLIENT_RPS", 5.0),
			Burst:             envIntOr("HARVEST_CLIENT_BURST", 10),
		},
		Server: ServerConfig{
			Enabled: envBoolOr("HARVEST_HTTP_ENABLED", false),
			Host:    envOr("HARVEST_HOST", "127.0.0.1"),
			Port:    envIntOr("HARVEST_PORT", 8090),
			Mode:    envOr("HARVEST_MODE", "release"),
		},
		Auth: AuthConfig{
			APIKeys: envSliceOr("HARVEST_SERVE_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("HARVEST_RATE_RPS", 5.0),
			Burst:             envIntOr("HARVEST_RATE_BURST", 10),
		},
		Storage: StorageConfig{
			Bucket:          os.Getenv("HARVEST_S3_BUCKET"),
			Endpoint:        os.Getenv("HARVEST_S3_ENDPOINT"),
			Region:          envOr("HARVEST_S3_REGION", "auto"),
			AccessKeyID:     os.Getenv("HARVEST_S3_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("HARVEST_S3_SECRET_KEY"),
			SignTTL:         envDurationOr("HARVEST_SIGN_TTL", 15*time.Minute),
		},
		Session: SessionConfig{
			MaxEntries: envIntOr("HARVEST_SESSION_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("HARVEST_SESSION_TTL", time.Hour),
		},
		Log: LogConfig{
			Level:  envOr("HARVEST_LOG_LEVEL", "info"),
			Format: envOr("HARVEST_LOG_FORMAT", "json"),
		},
	}
}

// Validate checks startup-fatal requirements. A missing extraction
// service URL or credential halts the process before any tool is served.
func (c *Config) Validate() error {
	if c.Extractor.BaseURL == "" {
		return errors.New("HARVEST_API_URL is required")
	}
	if c.Extractor.APIKey == "" {
		return errors.New("HARVEST_API_KEY is required")
	}
	if c.Extractor.PollInterval <= 0 {
		return errors.New("HARVEST_POLL_INTERVAL must be positive")
	}
	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
