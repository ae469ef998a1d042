// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	GRPCPort     int // 0 disables the gRPC listener.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Store settings. StoreURI selects the backend by scheme:
	// postgres:// / postgresql:// for the relational store, anything else
	// is treated as a filesystem root.
	StoreURI string

	// ArtifactRoot is the default artifact location base; experiment
	// artifact locations are allocated beneath it unless a client
	// overrides them.
	ArtifactRoot string

	// AuthToken enables static bearer-token auth when non-empty.
	AuthToken string

	// PresignSecret signs artifact access tokens; empty disables
	// presigned links.
	PresignSecret string
	PresignTTL    time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64

	// Rate limiting. RateLimitRPS 0 disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int

	// MaxResultsCap bounds max_results on search APIs; requests above it
	// are rejected. Clamped to the hard ceiling of 1,000,000.
	MaxResultsCap int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("KIROKU_PORT", 5000),
		GRPCPort:            envInt("KIROKU_GRPC_PORT", 0),
		ReadTimeout:         envDuration("KIROKU_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("KIROKU_WRITE_TIMEOUT", 5*time.Minute),
		StoreURI:            envStr("KIROKU_STORE_URI", "./kiroku-data"),
		ArtifactRoot:        envStr("KIROKU_ARTIFACT_ROOT", ""),
		AuthToken:           envStr("KIROKU_AUTH_TOKEN", ""),
		PresignSecret:       envStr("KIROKU_PRESIGN_SECRET", ""),
		PresignTTL:          envDuration("KIROKU_PRESIGN_TTL", 15*time.Minute),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "kiroku"),
		LogLevel:            envStr("KIROKU_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("KIROKU_MAX_REQUEST_BODY_BYTES", 16*1024*1024)),
		RateLimitRPS:        float64(envInt("KIROKU_RATE_LIMIT_RPS", 0)),
		RateLimitBurst:      envInt("KIROKU_RATE_LIMIT_BURST", 100),
		MaxResultsCap:       envInt64("KIROKU_MAX_RESULTS_CAP", 50_000),
	}
	if cfg.ArtifactRoot == "" {
		// Artifacts default to a sibling of a filesystem store, or to a
		// local directory when the store is relational.
		if cfg.UsesPostgres() {
			cfg.ArtifactRoot = "./kiroku-artifacts"
		} else {
			cfg.ArtifactRoot = strings.TrimRight(cfg.StoreURI, "/") + "/artifacts"
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UsesPostgres reports whether StoreURI selects the relational backend.
func (c Config) UsesPostgres() bool {
	return strings.HasPrefix(c.StoreURI, "postgres://") ||
		strings.HasPrefix(c.StoreURI, "postgresql://")
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.StoreURI == "" {
		return fmt.Errorf("config: KIROKU_STORE_URI is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: KIROKU_PORT out of range: %d", c.Port)
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KIROKU_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
