package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"sessions", "segments", "selections", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	err = database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	err = db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations error = %v", err)
	}

	if count != 1 {
		t.Errorf("migration count = %d, want 1", count)
	}
}

func TestNew_CascadesSessionDelete(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	conn := database.Conn()
	if _, err := conn.Exec(`
		INSERT INTO sessions (id, name, duration, filter, created_at, updated_at)
		VALUES ('s1', 'talk', 60, '{}', datetime('now'), datetime('now'))
	`); err != nil {
		t.Fatalf("insert session error = %v", err)
	}
	if _, err := conn.Exec(`
		INSERT INTO segments (session_id, id, category, start_time, end_time, duration, confidence, severity)
		VALUES ('s1', 'seg-001', 'pause', 0, 1, 1, 1, 'low')
	`); err != nil {
		t.Fatalf("insert segment error = %v", err)
	}

	if _, err := conn.Exec("DELETE FROM sessions WHERE id = 's1'"); err != nil {
		t.Fatalf("delete session error = %v", err)
	}

	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM segments").Scan(&count); err != nil {
		t.Fatalf("count segments error = %v", err)
	}
	if count != 0 {
		t.Errorf("segments after cascade = %d, want 0", count)
	}
}

func TestAppliedMigrations(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "nested", "dir", "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	names, err := database.AppliedMigrations(context.Background())
	if err != nil {
		t.Fatalf("AppliedMigrations() error = %v", err)
	}
	if len(names) != 1 || names[0] != "001_initial.sql" {
		t.Errorf("AppliedMigrations() = %v, want [001_initial.sql]", names)
	}
}
