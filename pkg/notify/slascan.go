package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/defect"
)

// SLAScanner watches for defects whose resolution SLA has been breached
// and enqueues one breach notification per defect per assignment. It reads
// defect state but never writes it.
type SLAScanner struct {
	store   *Store
	defects *defect.Store
	cfg     *Config
	logger  *slog.Logger
}

// NewSLAScanner creates a scanner over the given stores.
func NewSLAScanner(store *Store, defects *defect.Store, cfg *Config, logger *slog.Logger) *SLAScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SLAScanner{
		store:   store,
		defects: defects,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run scans on cfg.SLAScanInterval until the context is cancelled.
func (s *SLAScanner) Run(ctx context.Context) {
	if s.store == nil || s.defects == nil || !s.cfg.Enabled {
		s.logger.Info("SLA breach scanner disabled")
		return
	}

	s.logger.Info("SLA breach scanner starting", "interval", s.cfg.SLAScanInterval.String())

	ticker := time.NewTicker(s.cfg.SLAScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SLA breach scanner stopped")
			return
		case <-ticker.C:
			enqueued, err := s.scanOnce(time.Now())
			if err != nil {
				s.logger.Error("SLA breach scan failed", "error", err)
			} else if enqueued > 0 {
				s.logger.Info("SLA breach notifications enqueued", "count", enqueued)
			}
		}
	}
}

// scanOnce checks every breach candidate against the SLA clock and
// enqueues notifications for confirmed breaches not yet pushed out.
func (s *SLAScanner) scanOnce(now time.Time) (int, error) {
	candidates, err := s.defects.BreachCandidates(now)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for i := range candidates {
		rec := &candidates[i]
		if rec.AssignedAt == nil || rec.SLADeadline == nil {
			continue
		}
		info := defect.EvaluateSLA(*rec.AssignedAt, *rec.SLADeadline, now)
		if info.Status != defect.SLABreached {
			continue
		}

		key := "sla-breach:" + rec.ID
		existing, err := s.store.GetByIdempotencyKey(key)
		if err != nil {
			return enqueued, err
		}
		if existing != nil {
			// In-flight duplicates are absorbed by Enqueue anyway; a
			// terminal row suppresses re-notification unless the defect
			// has since been reassigned.
			if !existing.IsTerminal() || existing.EnqueuedAt.After(*rec.AssignedAt) {
				continue
			}
		}

		notification := &NotificationRecord{
			Program:   rec.Program,
			Kind:      KindSLABreach,
			Recipient: rec.AssignedTo,
			Subject:   fmt.Sprintf("SLA breached: %s/%s defect %s", rec.Severity, rec.Priority, rec.ID),
			Body:      fmt.Sprintf("%s missed its resolution deadline of %s.", rec.Title, rec.SLADeadline.Format(time.RFC3339)),
			Payload: audit.JSONAny{
				"defectId":   rec.ID,
				"severity":   rec.Severity,
				"priority":   rec.Priority,
				"status":     rec.Status,
				"assignedTo": rec.AssignedTo,
				"deadline":   rec.SLADeadline.Format(time.RFC3339Nano),
			},
			EnqueuedBy:     "sla-scanner",
			IdempotencyKey: key,
		}
		if _, err := s.store.Enqueue(notification); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}
