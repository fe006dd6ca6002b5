package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"formfit/internal/domain"
)

type Config struct {
	API       APIConfig
	Upload    UploadConfig
	RateLimit RateLimitConfig
	Database  DatabaseConfig
	Trace     TraceConfig
}

type APIConfig struct {
	Addr      string
	StaticDir string
}

type UploadConfig struct {
	Limits           domain.Limits
	DefaultWidth     int
	DefaultHeight    int
	DefaultMaxSizeKB float64
	DefaultQuality   int
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Requests      int
	Window        time.Duration
	UserIDHeader  string
}

type DatabaseConfig struct {
	DSN string
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	defaults := domain.DefaultLimits()

	return Config{
		API: APIConfig{
			Addr:      env("FORMFIT_API_ADDR", ":8080"),
			StaticDir: env("FORMFIT_STATIC_DIR", ""),
		},
		Upload: UploadConfig{
			Limits: domain.Limits{
				MaxDimension:      envInt("FORMFIT_MAX_DIMENSION", defaults.MaxDimension),
				MaxSizeKB:         envFloat("FORMFIT_MAX_SIZE_KB", defaults.MaxSizeKB),
				MaxUploadBytes:    int64(envInt("FORMFIT_MAX_UPLOAD_MB", 16)) << 20,
				AllowedExtensions: envList("FORMFIT_ALLOWED_EXTENSIONS", defaults.AllowedExtensions),
			},
			DefaultWidth:     envInt("FORMFIT_DEFAULT_WIDTH", 200),
			DefaultHeight:    envInt("FORMFIT_DEFAULT_HEIGHT", 200),
			DefaultMaxSizeKB: envFloat("FORMFIT_DEFAULT_MAX_SIZE_KB", 50),
			DefaultQuality:   envInt("FORMFIT_DEFAULT_QUALITY", 80),
		},
		RateLimit: RateLimitConfig{
			Enabled:       envBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Requests:      envInt("RATE_LIMIT_REQUESTS", 30),
			Window:        time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
			UserIDHeader:  env("RATE_LIMIT_USER_ID_HEADER", "X-User-ID"),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Trace: TraceConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTLP_INSECURE", false),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
