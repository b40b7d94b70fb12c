// Package db owns database connectivity for the testhub server: dialect
// selection, connection retries, and versioned schema migrations. MySQL and
// PostgreSQL are the supported production dialects; SQLite is supported for
// development and tests.
package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported database types.
const (
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

const (
	defaultMaxRetries    = 5
	defaultRetryInterval = 3 * time.Second

	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = time.Hour
)

// Connector opens a GORM connection for a configured dialect, retrying until
// the database is reachable. Retries cover the common case of the server
// starting before its database container.
type Connector struct {
	Type          string
	DSN           string
	MaxRetries    int
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// NewConnector returns a Connector with default retry behavior.
func NewConnector(dbType, dsn string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		Type:          dbType,
		DSN:           dsn,
		MaxRetries:    defaultMaxRetries,
		RetryInterval: defaultRetryInterval,
		Logger:        logger,
	}
}

// Connect opens the database connection and verifies it with a ping.
func (c *Connector) Connect() (*gorm.DB, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dialector, err := c.dialector()
	if err != nil {
		return nil, err
	}

	cfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	var lastErr error
	attempts := c.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			c.Logger.Info("retrying database connection",
				"type", c.Type, "attempt", i+1, "maxRetries", attempts)
			time.Sleep(c.RetryInterval)
		}

		gormDB, err := gorm.Open(dialector, cfg)
		if err != nil {
			lastErr = err
			continue
		}

		sqlDB, err := gormDB.DB()
		if err != nil {
			lastErr = err
			continue
		}
		if err := sqlDB.Ping(); err != nil {
			lastErr = err
			_ = sqlDB.Close()
			continue
		}

		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetConnMaxLifetime(connMaxLifetime)

		return gormDB, nil
	}

	return nil, fmt.Errorf("failed to connect to %s database after %d attempts: %w", c.Type, attempts, lastErr)
}

func (c *Connector) dialector() (gorm.Dialector, error) {
	switch c.Type {
	case TypeMySQL:
		return mysql.Open(c.DSN), nil
	case TypePostgres:
		return postgres.Open(c.DSN), nil
	case TypeSQLite:
		return sqlite.Open(c.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q (supported: %s, %s, %s)",
			c.Type, TypeMySQL, TypePostgres, TypeSQLite)
	}
}
