package cache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/execution"
)

// CacheManager holds separate cache instances for run summaries and gate
// criteria, each with its own TTL. It provides targeted invalidation so a
// recorded execution only clears the affected run and program.
type CacheManager struct {
	summaries *LRUCache
	criteria  *LRUCache
}

// NewCacheManager creates a CacheManager from the given configuration.
// If cfg is nil or disabled, it returns nil; a nil manager is safe to call.
func NewCacheManager(cfg *CacheConfig) *CacheManager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &CacheManager{
		summaries: NewLRUCache(cfg.MaxSize, cfg.SummaryTTL),
		criteria:  NewLRUCache(cfg.MaxSize, cfg.CriteriaTTL),
	}
}

// InvalidateRun invalidates the cached summary for one run in one program.
// The key format is <program> /api/executions/v1alpha1/runs/{runId}/summary.
func (cm *CacheManager) InvalidateRun(program, runID string) {
	if cm == nil {
		return
	}
	cm.summaries.InvalidatePrefix(fmt.Sprintf("%s /api/executions/v1alpha1/runs/%s", program, runID))
}

// InvalidateProgram clears both caches for one program.
func (cm *CacheManager) InvalidateProgram(program string) {
	if cm == nil {
		return
	}
	cm.summaries.InvalidatePrefix(program + " ")
	cm.criteria.InvalidatePrefix(program + " ")
}

// InvalidateAll clears both caches entirely.
func (cm *CacheManager) InvalidateAll() {
	if cm == nil {
		return
	}
	cm.summaries.InvalidateAll()
	cm.criteria.InvalidateAll()
}

// ExecutionStatusChanged implements execution.StatusListener: every recorded
// result makes the run's cached summary stale.
func (cm *CacheManager) ExecutionStatusChanged(_ context.Context, event execution.StatusEvent) {
	cm.InvalidateRun(event.Program, event.RunID)
}

// SummaryMiddleware returns HTTP middleware that caches run summary
// responses. On a nil manager it returns a pass-through, so routes can be
// wired unconditionally.
func (cm *CacheManager) SummaryMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return passthrough
	}
	return CacheMiddleware(cm.summaries)
}

// CriteriaMiddleware returns HTTP middleware that caches gate criteria
// reads. Criteria writes flow through the same subtree, so the middleware's
// write-through invalidation keeps the cache honest without extra wiring.
func (cm *CacheManager) CriteriaMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return passthrough
	}
	return CacheMiddleware(cm.criteria)
}

func passthrough(next http.Handler) http.Handler { return next }
