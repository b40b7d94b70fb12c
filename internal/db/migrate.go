package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/mysql/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// Migrator applies versioned schema migrations for MySQL and PostgreSQL.
// SQLite deployments (development, tests) rely on GORM AutoMigrate instead,
// so Migrate is a no-op there. The migrator opens its own plain
// database/sql connection: MySQL migrations need multiStatements enabled,
// which the regular GORM connection should not carry.
type Migrator struct {
	dbType string
	dsn    string
	logger *slog.Logger
}

// NewMigrator returns a Migrator for the given dialect and DSN.
func NewMigrator(dbType, dsn string, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{dbType: dbType, dsn: dsn, logger: logger}
}

// Migrate brings the schema up to the latest version. An already up-to-date
// schema is not an error.
func (m *Migrator) Migrate() error {
	if m.dbType == TypeSQLite {
		m.logger.Info("sqlite schema is managed by AutoMigrate, skipping versioned migrations")
		return nil
	}

	mig, cleanup, err := m.newMigrate()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := mig.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	m.logger.Info("database schema is up to date", "version", version, "dirty", dirty)
	return nil
}

func (m *Migrator) newMigrate() (*migrate.Migrate, func(), error) {
	switch m.dbType {
	case TypeMySQL:
		return m.newMySQLMigrate()
	case TypePostgres:
		return m.newPostgresMigrate()
	default:
		return nil, nil, fmt.Errorf("unsupported database type %q for migrations", m.dbType)
	}
}

func (m *Migrator) newMySQLMigrate() (*migrate.Migrate, func(), error) {
	cfg, err := mysqldriver.ParseDSN(m.dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse mysql DSN: %w", err)
	}
	cfg.MultiStatements = true

	sqlDB, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open mysql migration connection: %w", err)
	}

	driver, err := migratemysql.WithInstance(sqlDB, &migratemysql.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create mysql migration driver: %w", err)
	}

	src, err := iofs.New(migrationFS, "migrations/mysql")
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to load mysql migrations: %w", err)
	}

	mig, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return mig, func() {
		_, _ = mig.Close()
	}, nil
}

func (m *Migrator) newPostgresMigrate() (*migrate.Migrate, func(), error) {
	sqlDB, err := sql.Open("postgres", m.dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres migration connection: %w", err)
	}

	driver, err := migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	src, err := iofs.New(migrationFS, "migrations/postgres")
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to load postgres migrations: %w", err)
	}

	mig, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return mig, func() {
		_, _ = mig.Close()
	}, nil
}
