package db

import (
	"log/slog"
	"strings"
	"testing"
)

func TestConnector_SQLite(t *testing.T) {
	c := NewConnector(TypeSQLite, "file::memory:?cache=shared", slog.Default())

	gormDB, err := c.Connect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var one int
	if err := gormDB.Raw("SELECT 1").Scan(&one).Error; err != nil {
		t.Fatalf("query on fresh connection failed: %v", err)
	}
	if one != 1 {
		t.Errorf("SELECT 1 = %d", one)
	}
}

func TestConnector_EmptyDSN(t *testing.T) {
	c := NewConnector(TypeSQLite, "", slog.Default())

	if _, err := c.Connect(); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestConnector_UnsupportedType(t *testing.T) {
	c := NewConnector("oracle", "some-dsn", slog.Default())

	_, err := c.Connect()
	if err == nil {
		t.Fatal("expected error for unsupported database type")
	}
	if !strings.Contains(err.Error(), "oracle") {
		t.Errorf("error should name the unsupported type, got %q", err.Error())
	}
}

func TestConnector_RetriesExhausted(t *testing.T) {
	c := NewConnector(TypeMySQL, "root:pw@tcp(127.0.0.1:1)/nope?parseTime=true", slog.Default())
	c.MaxRetries = 2
	c.RetryInterval = 0

	_, err := c.Connect()
	if err == nil {
		t.Fatal("expected error for unreachable database")
	}
	if !strings.Contains(err.Error(), "2 attempts") {
		t.Errorf("error should report the attempt count, got %q", err.Error())
	}
}

func TestMigrator_SQLiteIsNoop(t *testing.T) {
	m := NewMigrator(TypeSQLite, "file::memory:", slog.Default())

	if err := m.Migrate(); err != nil {
		t.Fatalf("sqlite migrate should be a no-op, got %v", err)
	}
}

func TestMigrator_UnsupportedType(t *testing.T) {
	m := NewMigrator("oracle", "some-dsn", slog.Default())

	if err := m.Migrate(); err == nil {
		t.Fatal("expected error for unsupported database type")
	}
}

func TestMigrationFilesEmbedded(t *testing.T) {
	for _, dir := range []string{"migrations/mysql", "migrations/postgres"} {
		entries, err := migrationFS.ReadDir(dir)
		if err != nil {
			t.Fatalf("failed to read %s: %v", dir, err)
		}

		ups, downs := 0, 0
		for _, e := range entries {
			switch {
			case strings.HasSuffix(e.Name(), ".up.sql"):
				ups++
			case strings.HasSuffix(e.Name(), ".down.sql"):
				downs++
			default:
				t.Errorf("unexpected file in %s: %s", dir, e.Name())
			}
		}

		if ups == 0 {
			t.Errorf("%s has no up migrations", dir)
		}
		if ups != downs {
			t.Errorf("%s has %d up migrations but %d down migrations", dir, ups, downs)
		}
	}
}
