package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/gate"
)

// VerdictNotifier enqueues a notification whenever a gate verdict flips.
// It implements gate.VerdictListener; unchanged verdicts are dropped so
// repeated evaluations of a stable gate stay quiet.
type VerdictNotifier struct {
	store  *Store
	logger *slog.Logger
}

// NewVerdictNotifier creates a listener writing to the given outbox.
func NewVerdictNotifier(store *Store, logger *slog.Logger) *VerdictNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerdictNotifier{store: store, logger: logger}
}

// GateEvaluated enqueues a verdict-change notification. Each evaluation
// group is keyed once, so re-delivery of the same event is absorbed.
func (n *VerdictNotifier) GateEvaluated(_ context.Context, event gate.VerdictEvent) {
	if !event.Changed {
		return
	}

	outcome := "blocked"
	if event.CanProceed {
		outcome = "cleared"
	}

	rec := &NotificationRecord{
		Program: event.Program,
		Kind:    KindGateVerdict,
		Subject: fmt.Sprintf("Gate %s: %s %s/%s", outcome, event.GateType, event.EntityType, event.EntityID),
		Body: fmt.Sprintf("The %s gate for %s %s is now %s.",
			event.GateType, event.EntityType, event.EntityID, outcome),
		Payload: audit.JSONAny{
			"entityType":      event.EntityType,
			"entityId":        event.EntityID,
			"gateType":        string(event.GateType),
			"evaluationGroup": event.EvaluationGroup,
			"canProceed":      event.CanProceed,
		},
		EnqueuedBy:     event.EvaluatedBy,
		IdempotencyKey: "gate-verdict:" + event.EvaluationGroup,
	}

	if _, err := n.store.Enqueue(rec); err != nil {
		n.logger.Error("failed to enqueue gate verdict notification",
			"entityType", event.EntityType,
			"entityId", event.EntityID,
			"error", err)
	}
}
