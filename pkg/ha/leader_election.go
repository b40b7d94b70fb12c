package ha

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
)

// leaderLeaseRecord is the lease row shared by all replicas. The holder
// renews RenewedAt every RetryPeriod; a row older than LeaseDuration is
// up for grabs.
type leaderLeaseRecord struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Holder    string    `gorm:"column:holder"`
	RenewedAt time.Time `gorm:"column:renewed_at"`
}

func (leaderLeaseRecord) TableName() string { return "leader_lease" }

// LeaderElector manages database-lease leader election for singleton
// background loops. Only the elected leader replica runs loops such as the
// notification workers, the SLA breach scanner, and audit retention.
type LeaderElector struct {
	config   *HAConfig
	db       *gorm.DB
	identity string
	isLeader bool
	mu       sync.RWMutex
	logger   *slog.Logger
	onStart  func(ctx context.Context)
	onStop   func()

	leaderCancel context.CancelFunc
}

// NewLeaderElector creates a new LeaderElector. The identity should be unique
// per replica (typically the pod name or hostname).
func NewLeaderElector(cfg *HAConfig, db *gorm.DB, identity string, logger *slog.Logger) *LeaderElector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderElector{
		config:   cfg,
		db:       db,
		identity: identity,
		logger:   logger,
	}
}

// OnStartLeading registers a callback invoked when this instance becomes leader.
// The provided context is cancelled when leadership is lost.
func (le *LeaderElector) OnStartLeading(fn func(ctx context.Context)) {
	le.onStart = fn
}

// OnStopLeading registers a callback invoked when this instance loses leadership.
func (le *LeaderElector) OnStopLeading(fn func()) {
	le.onStop = fn
}

// IsLeader returns true if this instance is the current leader.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

// Run starts leader election. It blocks until the context is cancelled, then
// releases the lease if this instance holds it so a peer can take over
// without waiting out the lease duration.
func (le *LeaderElector) Run(ctx context.Context) {
	le.logger.Info("starting leader election",
		"identity", le.identity,
		"lease", le.config.LeaseName,
		"leaseDuration", le.config.LeaseDuration,
		"retryPeriod", le.config.RetryPeriod,
	)

	ticker := time.NewTicker(le.config.RetryPeriod)
	defer ticker.Stop()

	le.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			le.release()
			return
		case now := <-ticker.C:
			le.tick(ctx, now)
		}
	}
}

// tick attempts to acquire or renew the lease and flips leadership state on
// change. A renewal failure is treated as lost leadership immediately: the
// lease may already belong to someone else.
func (le *LeaderElector) tick(ctx context.Context, now time.Time) {
	held, err := le.tryAcquire(now)
	if err != nil {
		le.logger.Error("leader lease attempt failed", "identity", le.identity, "error", err)
		held = false
	}

	le.mu.Lock()
	was := le.isLeader
	le.isLeader = held
	le.mu.Unlock()

	switch {
	case held && !was:
		le.logger.Info("elected as leader", "identity", le.identity)
		if le.onStart != nil {
			leaderCtx, cancel := context.WithCancel(ctx)
			le.mu.Lock()
			le.leaderCancel = cancel
			le.mu.Unlock()
			le.onStart(leaderCtx)
		}
	case !held && was:
		le.logger.Info("lost leadership", "identity", le.identity)
		le.stopLeading()
	}
}

// tryAcquire claims the lease when it is free or stale, and renews it when
// this instance already holds it. Every mutation is guarded by a WHERE clause
// on the previously observed holder and renewal time, so two replicas racing
// on the same stale lease serialize on RowsAffected.
func (le *LeaderElector) tryAcquire(now time.Time) (bool, error) {
	var lease leaderLeaseRecord
	err := le.db.Where("id = ?", le.config.LeaseName).First(&lease).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return false, err
		}
		// No lease yet. Create fails if a peer got there first.
		create := le.db.Create(&leaderLeaseRecord{
			ID:        le.config.LeaseName,
			Holder:    le.identity,
			RenewedAt: now,
		})
		if create.Error != nil {
			return false, nil
		}
		return true, nil
	}

	fresh := now.Sub(lease.RenewedAt) < le.config.LeaseDuration
	if lease.Holder != le.identity && fresh {
		return false, nil
	}

	// Renew our own lease, or take over a stale one.
	res := le.db.Model(&leaderLeaseRecord{}).
		Where("id = ? AND holder = ? AND renewed_at = ?", le.config.LeaseName, lease.Holder, lease.RenewedAt).
		Updates(map[string]any{"holder": le.identity, "renewed_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// A peer renewed or took the lease between our read and write.
		return false, nil
	}
	if lease.Holder != le.identity {
		le.logger.Info("took over stale leader lease",
			"identity", le.identity,
			"previousHolder", lease.Holder,
			"staleFor", now.Sub(lease.RenewedAt).Round(time.Second))
	}
	return true, nil
}

// release deletes the lease if this instance holds it and drops leadership.
func (le *LeaderElector) release() {
	le.mu.Lock()
	was := le.isLeader
	le.isLeader = false
	le.mu.Unlock()

	if !was {
		return
	}

	if err := le.db.Where("id = ? AND holder = ?", le.config.LeaseName, le.identity).
		Delete(&leaderLeaseRecord{}).Error; err != nil {
		le.logger.Error("releasing leader lease failed", "identity", le.identity, "error", err)
	}
	le.logger.Info("released leader lease", "identity", le.identity)
	le.stopLeading()
}

func (le *LeaderElector) stopLeading() {
	le.mu.Lock()
	cancel := le.leaderCancel
	le.leaderCancel = nil
	le.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if le.onStop != nil {
		le.onStop()
	}
}

// AutoMigrate creates the lease table.
func (le *LeaderElector) AutoMigrate() error {
	return le.db.AutoMigrate(&leaderLeaseRecord{})
}
