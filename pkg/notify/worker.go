package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool drains the outbox using a pool of goroutines, handing each
// claimed notification to the dispatcher.
type WorkerPool struct {
	store      *Store
	dispatcher Dispatcher
	cfg        *Config
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *Store, dispatcher Dispatcher, cfg *Config, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run starts the worker pool. It spawns cfg.Concurrency goroutines,
// each polling the outbox. It blocks until the context is cancelled,
// then waits for all workers to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || wp.dispatcher == nil || !wp.cfg.Enabled {
		wp.logger.Info("notification worker pool disabled")
		return
	}

	wp.logger.Info("notification worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String())

	// Start stuck delivery cleanup goroutine.
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.cleanupLoop(ctx)
	}()

	// Start worker goroutines.
	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("notification worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("notification worker pool stopped")
}

// workerLoop is the main loop for a single worker goroutine.
func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	wp.logger.Info("notification worker started", "workerID", workerID)

	for {
		select {
		case <-ctx.Done():
			wp.logger.Info("notification worker stopped", "workerID", workerID)
			return
		case <-ticker.C:
			wp.deliverOne(ctx, workerID)
		}
	}
}

// deliverOne tries to claim and deliver a single notification.
func (wp *WorkerPool) deliverOne(ctx context.Context, workerID int) {
	rec, err := wp.store.Claim(wp.cfg.MaxRetries)
	if err != nil {
		wp.logger.Error("failed to claim notification", "workerID", workerID, "error", err)
		return
	}
	if rec == nil {
		return // Outbox is empty.
	}

	wp.logger.Info("delivering notification",
		"workerID", workerID,
		"notificationID", rec.ID,
		"kind", rec.Kind,
		"recipient", rec.Recipient,
		"attempt", rec.AttemptCount)

	if err := wp.dispatcher.Dispatch(ctx, rec); err != nil {
		wp.logger.Error("notification delivery failed",
			"workerID", workerID,
			"notificationID", rec.ID,
			"error", err)
		if failErr := wp.store.Fail(rec.ID, err.Error(), wp.cfg.MaxRetries); failErr != nil {
			wp.logger.Error("failed to mark notification as failed", "notificationID", rec.ID, "error", failErr)
		}
		return
	}

	if err := wp.store.Delivered(rec.ID); err != nil {
		wp.logger.Error("failed to mark notification as delivered", "notificationID", rec.ID, "error", err)
	}
}

// cleanupLoop periodically recovers stuck deliveries and prunes old
// terminal notifications.
func (wp *WorkerPool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if wp.cfg.ClaimTimeout > 0 {
				recovered, err := wp.store.RecoverStuck(wp.cfg.ClaimTimeout)
				if err != nil {
					wp.logger.Error("failed to recover stuck notifications", "error", err)
				} else if recovered > 0 {
					wp.logger.Info("recovered stuck notifications", "count", recovered)
				}
			}

			if wp.cfg.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
				deleted, err := wp.store.DeleteOlderThan(cutoff)
				if err != nil {
					wp.logger.Error("failed to delete old notifications", "error", err)
				} else if deleted > 0 {
					wp.logger.Info("deleted old notifications", "count", deleted)
				}
			}
		}
	}
}
