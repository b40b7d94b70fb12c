package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheConfig holds configuration for the caching layer.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and all requests pass through uncached.
	Enabled bool

	// SummaryTTL is the TTL for run summary responses.
	SummaryTTL time.Duration

	// CriteriaTTL is the TTL for gate criteria responses.
	CriteriaTTL time.Duration

	// MaxSize is the maximum number of entries per cache instance.
	MaxSize int
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:     true,
		SummaryTTL:  15 * time.Second,
		CriteriaTTL: 60 * time.Second,
		MaxSize:     1000,
	}
}

// CacheConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - TESTHUB_CACHE_ENABLED: "true" or "false" (default: "true")
//   - TESTHUB_CACHE_SUMMARY_TTL: duration in seconds (default: 15)
//   - TESTHUB_CACHE_CRITERIA_TTL: duration in seconds (default: 60)
//   - TESTHUB_CACHE_MAX_SIZE: max entries per cache (default: 1000)
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if v := os.Getenv("TESTHUB_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("TESTHUB_CACHE_SUMMARY_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.SummaryTTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("TESTHUB_CACHE_CRITERIA_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.CriteriaTTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("TESTHUB_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	return cfg
}
