// Package main provides the testhub server entry point. The server hosts
// the execution ledger, the defect lifecycle, gate evaluation, and the
// notification outbox under a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/internal/db"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/internal/server"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/cache"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/ha"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/notify"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

// serverConfig is the resolved startup configuration. Values come from the
// config file when one is given, TESTHUB_* environment variables, and
// command-line flags, in increasing order of precedence.
type serverConfig struct {
	Listen        string
	DatabaseType  string
	DatabaseDSN   string
	TenancyMode   string
	AuthMode      string
	AuthzMode     string
	SLAMatrixPath string
	AccessLog     bool
}

func loadConfig(path string) (*serverConfig, error) {
	v := viper.New()
	v.SetDefault("listen", ":8080")
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "testhub.db")
	v.SetDefault("tenancy.mode", string(tenancy.ModeSingle))
	v.SetDefault("auth.mode", "header")
	v.SetDefault("authz.mode", string(authz.AuthzModeNone))
	v.SetDefault("sla.matrix", "")
	v.SetDefault("access.log", true)

	v.SetEnvPrefix("TESTHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	return &serverConfig{
		Listen:        v.GetString("listen"),
		DatabaseType:  v.GetString("database.type"),
		DatabaseDSN:   v.GetString("database.dsn"),
		TenancyMode:   v.GetString("tenancy.mode"),
		AuthMode:      v.GetString("auth.mode"),
		AuthzMode:     v.GetString("authz.mode"),
		SLAMatrixPath: v.GetString("sla.matrix"),
		AccessLog:     v.GetBool("access.log"),
	}, nil
}

func main() {
	var (
		listenAddr    string
		configPath    string
		databaseType  string
		databaseDSN   string
		slaMatrixPath string
	)

	flag.StringVar(&listenAddr, "listen", "", "Address to listen on")
	flag.StringVar(&configPath, "config", "", "Path to server config file (YAML)")
	flag.StringVar(&databaseType, "db-type", "", "Database type (postgres, mysql, or sqlite)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.StringVar(&slaMatrixPath, "sla-matrix", "", "Path to SLA matrix overlay (YAML)")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	// Set up structured logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	// Flags beat config file and environment.
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if databaseType != "" {
		cfg.DatabaseType = databaseType
	}
	if databaseDSN != "" {
		cfg.DatabaseDSN = databaseDSN
	}
	if slaMatrixPath != "" {
		cfg.SLAMatrixPath = slaMatrixPath
	}

	logger.Info("starting testhub server",
		"listen", cfg.Listen,
		"dbType", cfg.DatabaseType,
		"tenancyMode", cfg.TenancyMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Setup database
	gormDB, err := db.NewConnector(cfg.DatabaseType, cfg.DatabaseDSN, logger).Connect()
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	var serverOpts []server.ServerOption

	// Tenancy mode (single program vs program-per-request).
	switch tenancy.Mode(cfg.TenancyMode) {
	case tenancy.ModeSingle:
	case tenancy.ModeProgram:
		serverOpts = append(serverOpts, server.WithTenancyMode(tenancy.ModeProgram))
		logger.Info("program tenancy enabled", "header", tenancy.ProgramHeader)
	default:
		glog.Fatalf("Unknown tenancy mode: %q (expected single or program)", cfg.TenancyMode)
	}

	// Set up auth based on the configured mode.
	switch cfg.AuthMode {
	case "jwt":
		jwtCfg := authz.JWTRoleExtractorConfig{
			RoleClaim:        envOrDefault("TESTHUB_JWT_ROLE_CLAIM", "role"),
			ManagerRoleValue: envOrDefault("TESTHUB_JWT_MANAGER_VALUE", "manager"),
			TesterRoleValue:  envOrDefault("TESTHUB_JWT_TESTER_VALUE", "tester"),
			PublicKeyPath:    os.Getenv("TESTHUB_JWT_PUBLIC_KEY_PATH"),
			Issuer:           os.Getenv("TESTHUB_JWT_ISSUER"),
			Audience:         os.Getenv("TESTHUB_JWT_AUDIENCE"),
			Logger:           logger,
		}
		extractor, err := authz.NewJWTRoleExtractor(jwtCfg)
		if err != nil {
			glog.Fatalf("Failed to create JWT role extractor: %v", err)
		}
		serverOpts = append(serverOpts, server.WithRoleExtractor(extractor))
		logger.Info("using JWT auth",
			"roleClaim", jwtCfg.RoleClaim,
			"hasPublicKey", jwtCfg.PublicKeyPath != "")
	case "header", "":
		// Default: use X-User-Role header (development mode)
		logger.Info("using header-based auth", "header", authz.RoleHeader)
	default:
		glog.Fatalf("Unknown auth mode: %q (expected jwt, header, or empty)", cfg.AuthMode)
	}

	// Role-based authorization.
	authorizer, err := authz.NewAuthorizer(authz.AuthzMode(cfg.AuthzMode))
	if err != nil {
		glog.Fatalf("Failed to create authorizer: %v", err)
	}
	serverOpts = append(serverOpts, server.WithAuthorizer(authorizer))
	logger.Info("authorization configured", "mode", cfg.AuthzMode)

	// Response caching for run summaries and gate criteria.
	serverOpts = append(serverOpts, server.WithCacheConfig(cache.CacheConfigFromEnv()))

	// Notification outbox and audit trail.
	serverOpts = append(serverOpts, server.WithNotifyConfig(notify.ConfigFromEnv()))
	serverOpts = append(serverOpts, server.WithAuditConfig(audit.AuditConfigFromEnv()))

	if cfg.SLAMatrixPath != "" {
		serverOpts = append(serverOpts, server.WithSLAMatrixPath(cfg.SLAMatrixPath))
	}

	if cfg.AccessLog {
		zapLogger, err := zap.NewProduction()
		if err != nil {
			glog.Fatalf("Failed to create access logger: %v", err)
		}
		defer func() { _ = zapLogger.Sync() }()
		serverOpts = append(serverOpts, server.WithAccessLog(zapLogger))
	}

	// High availability: migration locking and leader election over the
	// shared database.
	haCfg := ha.HAConfigFromEnv()
	if haCfg.MigrationLockEnabled {
		serverOpts = append(serverOpts, server.WithMigrationLocker(ha.NewMigrationLocker(gormDB, haCfg.Identity)))
	}
	var elector *ha.LeaderElector
	if haCfg.LeaderElectionEnabled {
		elector = ha.NewLeaderElector(haCfg, gormDB, haCfg.Identity, logger)
		serverOpts = append(serverOpts, server.WithLeaderElector(elector))
		logger.Info("leader election enabled",
			"lease", haCfg.LeaseName,
			"identity", haCfg.Identity)
	}

	// Create and initialize server
	srv := server.NewServer(gormDB, cfg.DatabaseType, cfg.DatabaseDSN, logger, serverOpts...)
	if err := srv.Init(ctx); err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}

	// Mount routes and start
	router := srv.MountRoutes()

	// Background workers run on the leader only. Without leader election
	// this instance is the sole leader and starts them directly.
	if elector != nil {
		if err := elector.AutoMigrate(); err != nil {
			glog.Fatalf("Failed to migrate leader lease table: %v", err)
		}
		elector.OnStartLeading(func(leaderCtx context.Context) {
			logger.Info("gained leadership, starting background workers")
			srv.RunWorkers(leaderCtx)
		})
		elector.OnStopLeading(func() {
			logger.Info("lost leadership, background workers stopping")
		})
		go elector.Run(ctx)
	} else {
		srv.RunWorkers(ctx)
	}

	logger.Info("testhub server ready", "listen", cfg.Listen)

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}

	// Start HTTP server in goroutine
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("testhub server stopped")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
