package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Middleware creates middleware that captures audit events for management
// actions. It wraps the ResponseWriter to capture the status code, then
// records an Event after the handler completes.
//
// Feature stores write richer transition/evaluation events transactionally;
// this middleware provides the management-plane baseline (who called what,
// when, with which outcome) for every mutating request.
func Middleware(store *Store, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip if audit is disabled.
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			// Skip non-management endpoints.
			if !isManagementEndpoint(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()

			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(capture, r)

			// After handler completes, record the audit event.
			statusCode := capture.statusCode
			outcome := outcomeFromStatus(statusCode)

			// Skip denied actions if LogDenied is false.
			if outcome == OutcomeDenied && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			program := tenancy.ProgramFromContext(ctx)
			if program == "" {
				program = "default"
			}

			actor := "anonymous"
			if id, ok := authz.IdentityFromContext(ctx); ok {
				actor = id.User
			}

			requestID := middleware.GetReqID(ctx)

			// Correlation ID from header, falling back to the request ID.
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = requestID
			}

			resourceIDs := extractResourceIDs(r.URL.Path)
			var resourceID string
			if len(resourceIDs) > 0 {
				resourceID = resourceIDs[0]
			}

			event := &Event{
				ID:            uuid.New().String(),
				Program:       program,
				CorrelationID: correlationID,
				RequestID:     requestID,
				EventType:     EventTypeManagement,
				Actor:         actor,
				ResourceType:  extractResourceType(r.URL.Path),
				ResourceID:    resourceID,
				ResourceIDs:   JSONStringSlice(resourceIDs),
				Action:        extractActionVerb(r.Method, r.URL.Path),
				Outcome:       outcome,
				StatusCode:    statusCode,
				CreatedAt:     startTime,
				EventMetadata: JSONAny{
					"area":     extractArea(r.URL.Path),
					"method":   r.Method,
					"path":     r.URL.Path,
					"duration": time.Since(startTime).String(),
				},
			}

			// Best-effort write: don't fail the request if audit write fails.
			if err := store.Append(event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusForbidden:
		return OutcomeDenied
	default:
		return OutcomeFailure
	}
}
