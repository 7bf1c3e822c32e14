package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	JWTSecret        string
	AllowedOrigins   []string
	StoragePath      string
	AssetBaseURL     string
	RenderAPIKey     string
	RenderModel      string
	RenderBaseURL    string
	WorkerSlots      int
	PollInterval     time.Duration
	MaxBatchRows     int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL is optional: when empty the service
// runs against the in-memory store, which is the single-instance mode.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AllowedOrigins:   splitAndTrim(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		StoragePath:      getEnv("STORAGE_PATH", "./data/storage"),
		AssetBaseURL:     getEnv("ASSET_BASE_URL", "http://localhost:8080/static"),
		RenderAPIKey:     os.Getenv("RENDER_API_KEY"),
		RenderModel:      getEnv("RENDER_MODEL", "gemini-2.5-flash-image"),
		RenderBaseURL:    getEnv("RENDER_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		WorkerSlots:      getEnvInt("WORKER_SLOTS", 4),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 2)),
		MaxBatchRows:     getEnvInt("MAX_BATCH_ROWS", 100),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.WorkerSlots < 1 {
		return nil, fmt.Errorf("WORKER_SLOTS must be at least 1")
	}

	if cfg.MaxBatchRows < 1 {
		return nil, fmt.Errorf("MAX_BATCH_ROWS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
