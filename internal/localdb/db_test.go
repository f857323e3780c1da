package localdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/biblemarker/cloudsync/internal/cloud"
)

// createTestDB builds a small valid database with one table and a few rows,
// closed and checkpointed so the primary file is self-contained.
func createTestDB(t *testing.T, path string) {
	t.Helper()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	stmts := []string{
		`CREATE TABLE highlights (id INTEGER PRIMARY KEY, verse TEXT NOT NULL, color TEXT)`,
		`INSERT INTO highlights (verse, color) VALUES ('John 3:16', 'yellow')`,
		`INSERT INTO highlights (verse, color) VALUES ('Psalm 23:1', 'green')`,
	}
	for _, s := range stmts {
		if _, err := db.RawDB().Exec(s); err != nil {
			_ = db.Close()
			t.Fatalf("Exec(%q) failed: %v", s, err)
		}
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
}

// TestOpen verifies that Open creates the file and parent directories.
func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "biblemarker.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}

	var mode string
	if err := db.RawDB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode query failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

// TestClose_Twice verifies Close is safe to call more than once.
func TestClose_Twice(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "a.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

// TestCheck_Valid verifies a healthy database passes the integrity check.
func TestCheck_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valid.db")
	createTestDB(t, path)

	if err := Check(context.Background(), path); err != nil {
		t.Errorf("Check() on valid database failed: %v", err)
	}
}

// TestCheck_Missing verifies Check never creates a database.
func TestCheck_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")

	err := Check(context.Background(), path)
	if !errors.Is(err, cloud.ErrIO) {
		t.Errorf("Check() error = %v, want ErrIO", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("Check() created the database file")
	}
}

// TestCheck_NotADatabase verifies garbage bytes fail the check.
func TestCheck_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	junk := make([]byte, 8192)
	for i := range junk {
		junk[i] = byte(i * 7)
	}
	if err := os.WriteFile(path, junk, 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := Check(context.Background(), path); err == nil {
		t.Error("Check() on garbage should fail")
	}
}

// TestCheck_Truncated verifies a database cut short fails the check.
func TestCheck_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.db")
	createTestDB(t, path)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if info.Size() < 2*512 {
		t.Fatalf("test database unexpectedly small: %d bytes", info.Size())
	}

	// Keep the header page, drop the table pages
	if err := os.Truncate(path, info.Size()/2); err != nil {
		t.Fatalf("Truncate() failed: %v", err)
	}

	err = Check(context.Background(), path)
	if err == nil {
		t.Fatal("Check() on truncated database should fail")
	}
	if !errors.Is(err, cloud.ErrIntegrity) && !errors.Is(err, cloud.ErrIO) {
		t.Errorf("Check() error = %v, want ErrIntegrity or ErrIO", err)
	}
}

// TestInspect verifies summary information for a populated database.
func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inspect.db")
	createTestDB(t, path)

	info, err := Inspect(context.Background(), path)
	if err != nil {
		t.Fatalf("Inspect() failed: %v", err)
	}
	if info.Tables != 1 {
		t.Errorf("Tables = %d, want 1", info.Tables)
	}
	if info.PageCount == 0 || info.PageSize == 0 {
		t.Errorf("PageCount = %d, PageSize = %d", info.PageCount, info.PageSize)
	}
	if info.Size != info.PageCount*info.PageSize {
		t.Errorf("Size = %d, want %d", info.Size, info.PageCount*info.PageSize)
	}
}

func TestDSN(t *testing.T) {
	got := dsn("/tmp/Mobile Documents/a.db", nil)
	if got != "file:/tmp/Mobile%20Documents/a.db" {
		t.Errorf("dsn() = %q", got)
	}
}
