// Package config holds the process configuration loaded from the
// environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full process configuration.
type Config struct {
	// Port the API server listens on.
	Port int

	// ProbeProducerURL is the transcript producer's base URL.
	ProbeProducerURL string

	// SummaryProducerURL is the summary producer's base URL. Defaults to
	// ProbeProducerURL when unset.
	SummaryProducerURL string

	// ProducerTimeout bounds one producer call end to end.
	ProducerTimeout time.Duration

	// RecoveryInterval is how often the recovery scheduler rescans
	// unfinished runs after the startup scan.
	RecoveryInterval time.Duration

	// RetentionDays is how long terminal runs are kept after their last
	// access before the sweeper soft-deletes them.
	RetentionDays int

	// RetentionInterval is how often the retention sweeper wakes up.
	RetentionInterval time.Duration

	// ShutdownTimeout bounds graceful drain of in-flight jobs and HTTP
	// requests.
	ShutdownTimeout time.Duration
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Port:              8080,
		ProbeProducerURL:  "http://localhost:8091",
		ProducerTimeout:   120 * time.Second,
		RecoveryInterval:  5 * time.Minute,
		RetentionDays:     90,
		RetentionInterval: 12 * time.Hour,
		ShutdownTimeout:   30 * time.Second,
	}
}

// LoadFromEnv returns the defaults overridden by environment variables.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.ProbeProducerURL = getEnv("PROBE_PRODUCER_URL", cfg.ProbeProducerURL)
	cfg.SummaryProducerURL = getEnv("SUMMARY_PRODUCER_URL", cfg.ProbeProducerURL)
	cfg.ProducerTimeout = getEnvDuration("PRODUCER_TIMEOUT", cfg.ProducerTimeout)
	cfg.RecoveryInterval = getEnvDuration("RECOVERY_INTERVAL", cfg.RecoveryInterval)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.RetentionInterval = getEnvDuration("RETENTION_INTERVAL", cfg.RetentionInterval)
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
