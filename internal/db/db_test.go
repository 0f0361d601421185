package db

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "clipstudio.db")
	database, err := New(path, nil)
	if err != nil {
		t.Fatalf("New(%q) error = %v", path, err)
	}
	t.Cleanup(func() { database.Close() })
	return database, path
}

func TestNew_Schema(t *testing.T) {
	database, _ := openTestDB(t)

	for _, table := range []string{"_migrations", "config", "exports"} {
		var n int
		if err := database.Conn().QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&n); err != nil || n != 1 {
			t.Errorf("table %s: count=%d err=%v", table, n, err)
		}
	}

	var mode string
	if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	database.Conn().QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestNew_ReopenSkipsAppliedMigrations(t *testing.T) {
	first, path := openTestDB(t)
	applied, err := first.appliedMigrations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !applied["001_init.sql"] || !applied["002_exports.sql"] || len(applied) != 2 {
		t.Fatalf("applied = %v", applied)
	}
	first.Close()

	second, err := New(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	var n int
	if err := second.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("migration rows = %d, want 2", n)
	}
}

func TestMarkInterruptedExports(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO exports (id, name, source_path, format, status, progress, created_at, updated_at)
		VALUES ('mid', 'demo', '/tmp/a.mp4', 'webm', 'rendering', 0.5, datetime('now'), datetime('now')),
		       ('finished', 'demo', '/tmp/a.mp4', 'webm', 'done', 1, datetime('now'), datetime('now'))
	`)
	if err != nil {
		t.Fatalf("insert export error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var status, errMsg string
	err = db2.Conn().QueryRow("SELECT status, error_message FROM exports WHERE id = 'mid'").Scan(&status, &errMsg)
	if err != nil {
		t.Fatalf("query export error = %v", err)
	}
	if status != "failed" {
		t.Errorf("export status = %s, want failed", status)
	}
	if errMsg != "interrupted by restart" {
		t.Errorf("export error = %s, want 'interrupted by restart'", errMsg)
	}

	err = db2.Conn().QueryRow("SELECT status FROM exports WHERE id = 'finished'").Scan(&status)
	if err != nil {
		t.Fatalf("query export error = %v", err)
	}
	if status != "done" {
		t.Errorf("finished export status = %s, want done", status)
	}
}

func TestConfigValues(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()
	ctx := context.Background()

	v, err := database.GetConfig(ctx, "device_id")
	if err != nil || v != "" {
		t.Fatalf("GetConfig unset = %q, %v", v, err)
	}
	if err := database.SetConfig(ctx, "device_id", "a"); err != nil {
		t.Fatalf("SetConfig error = %v", err)
	}
	if err := database.SetConfig(ctx, "device_id", "b"); err != nil {
		t.Fatalf("SetConfig overwrite error = %v", err)
	}
	v, err = database.GetConfig(ctx, "device_id")
	if err != nil || v != "b" {
		t.Errorf("GetConfig = %q, %v, want b", v, err)
	}
}
