package config

import (
	"fmt"
	"time"

	"github.com/sosodev/duration"
)

// StoreConfig holds the embedded SQLite store configuration
type StoreConfig struct {
	Path            string `env:"DEVTRUST_DB_PATH" env-default:"devtrust.db"`
	MaxInFlight     int    `env:"DEVTRUST_DB_MAX_IN_FLIGHT" env-default:"10"`
	BusyTimeoutMs   int    `env:"DEVTRUST_DB_BUSY_TIMEOUT_MS" env-default:"30000"`
	CacheSizePages  int    `env:"DEVTRUST_DB_CACHE_SIZE" env-default:"10000"`
	MmapSizeBytes   int64  `env:"DEVTRUST_DB_MMAP_SIZE" env-default:"268435456"`
	RepositoryKind  string `env:"DEVTRUST_REPOSITORY_KIND" env-default:"sqlite"`
	PostgresURL     string `env:"DEVTRUST_PG_URL"`
}

// FingerprintConfig holds the fingerprint hashing configuration
type FingerprintConfig struct {
	// Pepper is a process-wide secret mixed into every fingerprint hash.
	// It must never come from user input.
	Pepper string `env:"DEVTRUST_FINGERPRINT_PEPPER" env-default:"devtrust-fingerprint-pepper-2024"`
}

// DeviceConfig holds registration engine policy settings
type DeviceConfig struct {
	// AutoApprove registers devices directly as approved instead of pending
	AutoApprove bool `env:"DEVTRUST_AUTO_APPROVE" env-default:"false"`
}

// BulkConfig holds bulk operation limits
type BulkConfig struct {
	// MaxBatchSize caps how many pending devices a single bulk action may touch
	MaxBatchSize int `env:"DEVTRUST_BULK_MAX_BATCH" env-default:"100"`
}

// RetentionConfig holds the audit log retention settings.
// Durations use ISO-8601 notation (e.g. P90D, PT12H).
type RetentionConfig struct {
	Horizon  string `env:"DEVTRUST_RETENTION_HORIZON" env-default:"P90D"`
	Interval string `env:"DEVTRUST_RETENTION_INTERVAL" env-default:"PT12H"`
}

// EmailConfig holds the SMTP settings for security alerts
type EmailConfig struct {
	Enabled  bool   `env:"DEVTRUST_ALERT_EMAIL_ENABLED" env-default:"false"`
	Host     string `env:"DEVTRUST_SMTP_HOST" env-default:"localhost"`
	Port     int    `env:"DEVTRUST_SMTP_PORT" env-default:"1025"`
	Username string `env:"DEVTRUST_SMTP_USERNAME" env-default:"alerts@example.com"`
	Password string `env:"DEVTRUST_SMTP_PASSWORD" env-default:"pwd"`
	From     string `env:"DEVTRUST_SMTP_FROM" env-default:"alerts@example.com"`
	To       string `env:"DEVTRUST_ALERT_EMAIL_TO" env-default:"security@example.com"`
	TLS      bool   `env:"DEVTRUST_SMTP_TLS" env-default:"false"`
}

// RateLimitConfig holds per-endpoint rate limiting settings
type RateLimitConfig struct {
	ValidateEnabled    bool    `env:"DEVTRUST_RATELIMIT_VALIDATE_ENABLED" env-default:"true"`
	ValidateCapacity   int     `env:"DEVTRUST_RATELIMIT_VALIDATE_CAPACITY" env-default:"30"`
	ValidateRefillRate float64 `env:"DEVTRUST_RATELIMIT_VALIDATE_REFILL_RATE" env-default:"0.5"` // ~30 per minute
}

// Config is the top-level configuration for the devtrust server
type Config struct {
	StoreConfig       StoreConfig
	FingerprintConfig FingerprintConfig
	DeviceConfig      DeviceConfig
	BulkConfig        BulkConfig
	RetentionConfig   RetentionConfig
	EmailConfig       EmailConfig
	RateLimitConfig   RateLimitConfig
}

// ParseISODuration parses an ISO-8601 duration string (P90D, PT12H, ...)
func ParseISODuration(value string) (time.Duration, error) {
	d, err := duration.Parse(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", value, err)
	}
	return d.ToTimeDuration(), nil
}

// Horizon returns the retention horizon as a time.Duration
func (r RetentionConfig) HorizonDuration() (time.Duration, error) {
	return ParseISODuration(r.Horizon)
}

// IntervalDuration returns the purge interval as a time.Duration
func (r RetentionConfig) IntervalDuration() (time.Duration, error) {
	return ParseISODuration(r.Interval)
}
