// Package server assembles the testhub HTTP server: schema migration,
// service construction, the wiring between executions, defects, gates,
// and the notification outbox, and the chi route tree with its middleware
// stack.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/internal/db"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/cache"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/defect"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/execution"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/gate"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/ha"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/notify"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/retest"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

// Server owns the lifecycle of the testhub API: Init migrates the schema and
// wires the services, MountRoutes builds the router, RunWorkers starts the
// background loops, Stop closes the database.
type Server struct {
	router chi.Router
	db     *gorm.DB
	dbType string
	dsn    string
	logger *slog.Logger

	executionStore *execution.Store
	defectStore    *defect.Store
	gateStore      *gate.Store
	notifyStore    *notify.Store
	auditStore     *audit.Store

	executions  *execution.Service
	defects     *defect.Service
	gates       *gate.Service
	coordinator *retest.Coordinator

	workerPool *notify.WorkerPool
	slaScanner *notify.SLAScanner
	retention  *audit.RetentionWorker

	notifyConfig    *notify.Config
	auditConfig     *audit.AuditConfig
	roleExtractor   authz.RoleExtractor
	tenancyMode     tenancy.Mode
	authorizer      authz.Authorizer
	cacheManager    *cache.CacheManager
	migrationLocker ha.MigrationLocker
	leaderElector   *ha.LeaderElector
	accessLog       *zap.Logger
	slaMatrixPath   string

	startedAt       time.Time
	initialLoadDone bool
	mu              sync.RWMutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRoleExtractor sets a custom role extractor for the identity middleware.
func WithRoleExtractor(extractor authz.RoleExtractor) ServerOption {
	return func(s *Server) {
		s.roleExtractor = extractor
	}
}

// WithTenancyMode sets the program resolution mode for the server.
// Defaults to ModeSingle if not set.
func WithTenancyMode(mode tenancy.Mode) ServerOption {
	return func(s *Server) {
		s.tenancyMode = mode
	}
}

// WithAuthorizer sets the Authorizer used to guard API routes.
func WithAuthorizer(a authz.Authorizer) ServerOption {
	return func(s *Server) {
		s.authorizer = a
	}
}

// WithCacheConfig sets up the CacheManager for caching run summaries and
// gate criteria reads. If the config is nil or disabled, no caching is applied.
func WithCacheConfig(cfg *cache.CacheConfig) ServerOption {
	return func(s *Server) {
		s.cacheManager = cache.NewCacheManager(cfg)
	}
}

// WithMigrationLocker sets the MigrationLocker used to serialize database
// migrations across multiple replicas. If not set, migrations run without
// locking (safe for single-replica deployments).
func WithMigrationLocker(locker ha.MigrationLocker) ServerOption {
	return func(s *Server) {
		s.migrationLocker = locker
	}
}

// WithLeaderElector sets the LeaderElector for gating singleton background
// workers. Only the leader replica runs notification delivery, the SLA
// breach scanner, and audit retention.
func WithLeaderElector(le *ha.LeaderElector) ServerOption {
	return func(s *Server) {
		s.leaderElector = le
	}
}

// WithAuditConfig sets the audit trail configuration for the server.
func WithAuditConfig(cfg *audit.AuditConfig) ServerOption {
	return func(s *Server) {
		s.auditConfig = cfg
	}
}

// WithNotifyConfig sets the notification outbox configuration for the server.
func WithNotifyConfig(cfg *notify.Config) ServerOption {
	return func(s *Server) {
		s.notifyConfig = cfg
	}
}

// WithSLAMatrixPath sets the path to a YAML SLA matrix overlay. Entries in
// the file override the built-in severity/priority SLA targets.
func WithSLAMatrixPath(path string) ServerOption {
	return func(s *Server) {
		s.slaMatrixPath = path
	}
}

// WithAccessLog enables structured request logging through the given zap
// logger.
func WithAccessLog(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.accessLog = logger
	}
}

// NewServer creates a testhub server over an established database
// connection. dbType and dsn are needed again for the versioned schema
// migrator, which opens its own connection.
func NewServer(gormDB *gorm.DB, dbType, dsn string, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		db:            gormDB,
		dbType:        dbType,
		dsn:           dsn,
		logger:        logger,
		roleExtractor: authz.DefaultRoleExtractor,
		tenancyMode:   tenancy.ModeSingle,
		notifyConfig:  notify.DefaultConfig(),
		auditConfig:   audit.DefaultAuditConfig(),
		startedAt:     time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// IsLeader returns true if this server instance is the current leader.
// Returns true when leader election is not configured (single-replica mode).
func (s *Server) IsLeader() bool {
	if s.leaderElector == nil {
		return true
	}
	return s.leaderElector.IsLeader()
}

// Init migrates the database schema and constructs the stores, services,
// and background workers. When a MigrationLocker is configured, schema
// changes run under the lock to prevent concurrent migrations from multiple
// replicas.
func (s *Server) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("server requires a database connection")
	}

	s.executionStore = execution.NewStore(s.db)
	s.defectStore = defect.NewStore(s.db)
	s.gateStore = gate.NewStore(s.db)
	s.notifyStore = notify.NewStore(s.db)
	s.auditStore = audit.NewStore(s.db)

	migrateFn := func() error {
		if err := db.NewMigrator(s.dbType, s.dsn, s.logger).Migrate(); err != nil {
			return err
		}

		// AutoMigrate covers SQLite and picks up anything the versioned
		// migrations have not caught up with yet.
		if err := s.executionStore.AutoMigrate(); err != nil {
			s.logger.Error("failed to auto-migrate execution tables", "error", err)
		}
		if err := s.defectStore.AutoMigrate(); err != nil {
			s.logger.Error("failed to auto-migrate defect tables", "error", err)
		}
		if err := s.gateStore.AutoMigrate(); err != nil {
			s.logger.Error("failed to auto-migrate gate tables", "error", err)
		}
		if err := s.notifyStore.AutoMigrate(); err != nil {
			s.logger.Error("failed to auto-migrate notification tables", "error", err)
		}
		if err := s.auditStore.AutoMigrate(); err != nil {
			s.logger.Error("failed to auto-migrate audit tables", "error", err)
		}
		return nil
	}

	if s.migrationLocker != nil {
		s.logger.Info("running migrations with lock")
		if err := s.migrationLocker.WithLock(ctx, migrateFn); err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
	} else {
		if err := migrateFn(); err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
	}

	s.executions = execution.NewService(s.executionStore, s.logger)
	s.defects = defect.NewService(s.defectStore, s.logger)

	if s.slaMatrixPath != "" {
		matrix, err := defect.LoadMatrix(s.slaMatrixPath)
		if err != nil {
			s.logger.Warn("failed to load SLA matrix, using defaults",
				"path", s.slaMatrixPath, "error", err)
		} else {
			s.defects.SetMatrix(matrix)
			s.logger.Info("loaded SLA matrix overlay", "path", s.slaMatrixPath)
		}
	}

	s.gates = gate.NewService(s.gateStore, s.executionStore, s.defectStore, s.logger)

	// Close the execution/defect loop: retest outcomes transition defects,
	// defect transitions verify retest references.
	s.coordinator = retest.NewCoordinator(s.executions, s.defects, s.logger)
	s.coordinator.Wire()

	// Gate verdict changes are pushed through the notification outbox.
	s.gates.OnVerdict(notify.NewVerdictNotifier(s.notifyStore, s.logger))

	if s.cacheManager != nil {
		s.executions.OnStatusChanged(s.cacheManager)
		s.logger.Info("summary/criteria caching enabled")
	}

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(s.logger)
	if s.notifyConfig.WebhookURL != "" {
		dispatcher = notify.NewWebhookDispatcher(s.notifyConfig.WebhookURL, s.notifyConfig.WebhookTimeout)
		s.logger.Info("webhook dispatcher configured", "url", s.notifyConfig.WebhookURL)
	}
	s.workerPool = notify.NewWorkerPool(s.notifyStore, dispatcher, s.notifyConfig, s.logger)
	s.slaScanner = notify.NewSLAScanner(s.notifyStore, s.defectStore, s.notifyConfig, s.logger)
	s.retention = audit.NewRetentionWorker(s.auditStore, s.auditConfig.RetentionDays, s.logger)

	s.initialLoadDone = true

	return nil
}

// MountRoutes creates the HTTP router with all API routes mounted.
func (s *Server) MountRoutes() chi.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.router = chi.NewRouter()

	// Add common middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	if s.accessLog != nil {
		s.router.Use(AccessLogger(s.accessLog))
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-CSRF-Token",
			authz.PrincipalHeader, authz.RoleHeader, tenancy.ProgramHeader,
		},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Add tenancy middleware (resolves program context per request).
	s.router.Use(tenancy.NewMiddleware(s.tenancyMode))

	// Add identity middleware (extracts principal and role into context).
	s.router.Use(authz.IdentityMiddleware(s.roleExtractor))

	// Add audit middleware (captures state-changing requests as audit events).
	if s.auditStore != nil && s.auditConfig != nil && s.auditConfig.Enabled {
		s.router.Use(audit.Middleware(s.auditStore, s.auditConfig, s.logger))
		s.logger.Info("audit middleware enabled",
			"logDenied", s.auditConfig.LogDenied,
			"retentionDays", s.auditConfig.RetentionDays)
	}

	// Feature APIs.
	s.router.Mount("/api/executions/v1alpha1",
		execution.Router(s.executions, s.authorizer, s.cacheManager.SummaryMiddleware()))
	s.router.Mount("/api/defects/v1alpha1",
		defect.Router(s.defects, s.authorizer))
	s.router.Mount("/api/gates/v1alpha1",
		gate.Router(s.gates, s.authorizer, s.cacheManager.CriteriaMiddleware()))
	s.router.Mount("/api/notifications/v1alpha1",
		notify.Router(s.notifyStore, s.authorizer))
	s.router.Mount("/api/audit/v1alpha1",
		audit.Router(s.auditStore, s.retention, s.authorizer))

	// Add health endpoints
	s.router.Get("/healthz", s.healthHandler)
	s.router.Get("/livez", s.healthHandler)
	s.router.Get("/readyz", s.readyHandler)

	// Add program discovery endpoint
	s.router.Get("/api/tenancy/v1alpha1/programs", s.programsHandler)

	return s.router
}

// RunWorkers starts the background loops: notification delivery, the SLA
// breach scanner, and audit retention. They stop when the context is
// cancelled. With leader election enabled, call this from OnStartLeading so
// only the leader replica runs them.
func (s *Server) RunWorkers(ctx context.Context) {
	s.mu.RLock()
	pool := s.workerPool
	scanner := s.slaScanner
	retention := s.retention
	s.mu.RUnlock()

	if pool != nil {
		go pool.Run(ctx)
	}
	if scanner != nil {
		go scanner.Run(ctx)
	}
	if retention != nil {
		go retention.Run(ctx)
	}
}

// Stop closes the database connection.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Router returns the underlying chi.Router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Executions returns the execution service. Exposed for tests.
func (s *Server) Executions() *execution.Service {
	return s.executions
}

// Defects returns the defect service. Exposed for tests.
func (s *Server) Defects() *defect.Service {
	return s.defects
}

// Gates returns the gate service. Exposed for tests.
func (s *Server) Gates() *gate.Service {
	return s.gates
}

// healthHandler returns the liveness status of the server.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	uptime := time.Since(s.startedAt).Round(time.Second).String()

	response := map[string]string{
		"status": "alive",
		"uptime": uptime,
	}

	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler checks if all components are ready to serve traffic.
// It verifies DB connectivity and initialization completion.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	initialLoadDone := s.initialLoadDone
	s.mu.RUnlock()

	allReady := true

	// Check DB connectivity.
	dbStatus := map[string]string{"status": "up"}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			allReady = false
		} else if err := sqlDB.Ping(); err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			allReady = false
		}
	} else {
		dbStatus["status"] = "not_configured"
	}

	// Check initialization completion.
	initStatus := map[string]string{"status": "complete"}
	if !initialLoadDone {
		initStatus["status"] = "pending"
		allReady = false
	}

	// Report leader election status (informational, does not gate readiness).
	leaderStatus := map[string]string{"status": "not_configured"}
	if s.leaderElector != nil {
		if s.leaderElector.IsLeader() {
			leaderStatus["status"] = "leader"
		} else {
			leaderStatus["status"] = "follower"
		}
	}

	components := map[string]any{
		"database":        dbStatus,
		"initialization":  initStatus,
		"leader_election": leaderStatus,
	}

	status := "ready"
	if !allReady {
		status = "not_ready"
	}

	w.Header().Set("Content-Type", "application/json")

	if allReady {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	response := map[string]any{
		"status":     status,
		"components": components,
	}

	_ = json.NewEncoder(w).Encode(response)
}

// programsHandler returns the list of programs accessible to the caller.
// In single mode it always returns ["default"].
// In program mode it returns a list from the TESTHUB_PROGRAMS env var or ["default"].
func (s *Server) programsHandler(w http.ResponseWriter, r *http.Request) {
	programs := []string{"default"}
	if s.tenancyMode == tenancy.ModeProgram {
		if env := os.Getenv("TESTHUB_PROGRAMS"); env != "" {
			parts := strings.Split(env, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				programs = trimmed
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"programs": programs,
		"mode":     string(s.tenancyMode),
	})
}
