// Package ha provides high-availability primitives for running the testhub
// server with multiple replicas: migration locking and database-lease leader
// election. The server is a plain process with no cluster API available, so
// both primitives are built on the shared database.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// HAConfig holds configuration for high-availability features.
type HAConfig struct {
	// LeaderElectionEnabled controls whether database-lease leader election
	// is active. When false, the instance behaves as the sole leader
	// (suitable for single-replica deployments).
	LeaderElectionEnabled bool

	// LeaseName is the key of the lease row used for leader election.
	// Replicas sharing a database and a lease name elect one leader.
	LeaseName string

	// LeaseDuration is how long a lease is considered live after its last
	// renewal. A replica whose lease is older than this is treated as gone
	// and its lease may be taken over.
	LeaseDuration time.Duration

	// RetryPeriod is the interval between lease renewal/acquisition attempts.
	// Must be shorter than LeaseDuration or the leader loses its own lease
	// between renewals.
	RetryPeriod time.Duration

	// MigrationLockEnabled controls whether database migration locking
	// is used to prevent concurrent schema changes.
	MigrationLockEnabled bool

	// Identity is the unique identity of this instance for leader election.
	// Defaults to the pod name (from POD_NAME env var or hostname).
	Identity string
}

// DefaultHAConfig returns an HAConfig with sensible defaults.
func DefaultHAConfig() *HAConfig {
	return &HAConfig{
		LeaderElectionEnabled: false,
		LeaseName:             "testhub-server-leader",
		LeaseDuration:         15 * time.Second,
		RetryPeriod:           2 * time.Second,
		MigrationLockEnabled:  true,
		Identity:              defaultIdentity(),
	}
}

// HAConfigFromEnv reads HA configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - TESTHUB_LEADER_ELECTION_ENABLED: "true" or "false" (default: "false")
//   - TESTHUB_LEADER_LEASE_NAME: lease row key (default: "testhub-server-leader")
//   - TESTHUB_LEADER_LEASE_DURATION: seconds (default: 15)
//   - TESTHUB_LEADER_RETRY_PERIOD: seconds (default: 2)
//   - TESTHUB_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - POD_NAME: replica identity for leader election
func HAConfigFromEnv() *HAConfig {
	cfg := DefaultHAConfig()

	if v := os.Getenv("TESTHUB_LEADER_ELECTION_ENABLED"); v != "" {
		cfg.LeaderElectionEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TESTHUB_LEADER_LEASE_NAME"); v != "" {
		cfg.LeaseName = v
	}
	if v := os.Getenv("TESTHUB_LEADER_LEASE_DURATION"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.LeaseDuration = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("TESTHUB_LEADER_RETRY_PERIOD"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RetryPeriod = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("TESTHUB_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("POD_NAME"); v != "" {
		cfg.Identity = v
	}

	return cfg
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
