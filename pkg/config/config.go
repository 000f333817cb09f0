// Package config loads credence server settings from the environment
// and governance policy profiles from YAML files.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds server settings. Values come from CREDENCE_* environment
// variables with workable local defaults; an empty optional value
// disables the corresponding integration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// ProfileDir is the directory holding profile_<name>.yaml files.
	ProfileDir string
	// Profile names the policy profile loaded at startup.
	Profile string

	// AuthSecret signs and verifies API bearer tokens. Empty disables
	// authentication, which is only sane for local development.
	AuthSecret string

	// AuditFile appends audit entries to a JSONL file when set.
	AuditFile string
	// SQLitePath mirrors audit entries into a SQLite database when set.
	SQLitePath string
	// PostgresDSN mirrors audit entries into Postgres when set.
	PostgresDSN string

	// KafkaBrokers publishes audit entries to Kafka when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// S3Bucket receives exported audit bundles when set.
	S3Bucket string
	S3Prefix string

	// RedisAddr enables the distributed rate limiter when set;
	// otherwise limiting is process-local.
	RedisAddr string
	// RateLimit is the sustained request rate per actor, per second.
	RateLimit float64
	// RateBurst is the per-actor burst allowance.
	RateBurst int

	// OTLPEndpoint enables OpenTelemetry export when set.
	OTLPEndpoint string
}

// Load reads configuration from the environment.
func Load() *Config {
	cfg := &Config{
		Addr:         envOr("CREDENCE_ADDR", ":8080"),
		LogLevel:     envOr("CREDENCE_LOG_LEVEL", "info"),
		ProfileDir:   envOr("CREDENCE_PROFILE_DIR", "profiles"),
		Profile:      envOr("CREDENCE_PROFILE", "default"),
		AuthSecret:   os.Getenv("CREDENCE_AUTH_SECRET"),
		AuditFile:    os.Getenv("CREDENCE_AUDIT_FILE"),
		SQLitePath:   os.Getenv("CREDENCE_SQLITE_PATH"),
		PostgresDSN:  os.Getenv("CREDENCE_POSTGRES_DSN"),
		KafkaTopic:   envOr("CREDENCE_KAFKA_TOPIC", "credence.audit"),
		S3Bucket:     os.Getenv("CREDENCE_S3_BUCKET"),
		S3Prefix:     envOr("CREDENCE_S3_PREFIX", "credence"),
		RedisAddr:    os.Getenv("CREDENCE_REDIS_ADDR"),
		RateLimit:    envFloat("CREDENCE_RATE_LIMIT", 50),
		RateBurst:    envInt("CREDENCE_RATE_BURST", 100),
		OTLPEndpoint: os.Getenv("CREDENCE_OTLP_ENDPOINT"),
	}
	if raw := os.Getenv("CREDENCE_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
