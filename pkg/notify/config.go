package notify

import (
	"os"
	"strconv"
	"time"
)

// Config controls outbox worker and scanner behavior.
type Config struct {
	Concurrency     int           // Max concurrent delivery workers. Default 2.
	MaxRetries      int           // Max delivery attempts per notification. Default 3.
	PollInterval    time.Duration // How often workers poll the outbox. Default 5s.
	ClaimTimeout    time.Duration // Max time in "sending" before considered stuck. Default 10m.
	RetentionDays   int           // How long to keep delivered/failed notifications. Default 30.
	Enabled         bool          // Whether delivery workers run. Default true.
	WebhookURL      string        // Target for the webhook dispatcher. Empty means log-only.
	WebhookTimeout  time.Duration // HTTP timeout per webhook call. Default 10s.
	SLAScanInterval time.Duration // How often the SLA breach scanner runs. Default 1m.
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:     2,
		MaxRetries:      3,
		PollInterval:    5 * time.Second,
		ClaimTimeout:    10 * time.Minute,
		RetentionDays:   30,
		Enabled:         true,
		WebhookTimeout:  10 * time.Second,
		SLAScanInterval: time.Minute,
	}
}

// ConfigFromEnv loads config from environment variables.
// TESTHUB_NOTIFY_CONCURRENCY, TESTHUB_NOTIFY_MAX_RETRIES,
// TESTHUB_NOTIFY_POLL_INTERVAL_SECONDS, TESTHUB_NOTIFY_CLAIM_TIMEOUT_MINUTES,
// TESTHUB_NOTIFY_RETENTION_DAYS, TESTHUB_NOTIFY_ENABLED,
// TESTHUB_NOTIFY_WEBHOOK_URL, TESTHUB_NOTIFY_WEBHOOK_TIMEOUT_SECONDS,
// TESTHUB_NOTIFY_SLA_SCAN_INTERVAL_SECONDS
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("TESTHUB_NOTIFY_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("TESTHUB_NOTIFY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}

	if v := os.Getenv("TESTHUB_NOTIFY_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("TESTHUB_NOTIFY_CLAIM_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClaimTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("TESTHUB_NOTIFY_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}

	if v := os.Getenv("TESTHUB_NOTIFY_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("TESTHUB_NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}

	if v := os.Getenv("TESTHUB_NOTIFY_WEBHOOK_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WebhookTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("TESTHUB_NOTIFY_SLA_SCAN_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SLAScanInterval = time.Duration(n) * time.Second
		}
	}

	return cfg
}
