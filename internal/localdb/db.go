// Package localdb provides access to the application's device-local SQLite
// database and the set of files that make it up on disk.
//
// The database lives in the application data directory, never in the cloud
// container:
//
//   - Primary file: <data_dir>/<app>.db
//   - Side files:   <app>.db-wal, <app>.db-shm
//
// The cloud daemon replicates side files independently of the primary file,
// which corrupts databases stored inside the container. Keeping the live
// database local avoids that.
package localdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/biblemarker/cloudsync/internal/cloud"
)

// DB wraps the local SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the local database at path.
//
// This is the application's normal fresh-database path: if the file is
// missing it is created. The database is put in WAL mode with a busy
// timeout and foreign keys enabled.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := localdb.Open(filepath.Join(dataDir, "biblemarker.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cloud.IOErr("create database directory", dir, err)
	}

	conn, err := sql.Open("sqlite3", dsn(path, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the primary file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL into the primary file and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// A truncated WAL leaves the primary file self-contained
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Check opens an existing database file and runs SQLite's integrity check,
// stopping at the first problem.
//
// It returns nil when the database is consistent, an error wrapping
// cloud.ErrIntegrity when the check reports problems, and an error wrapping
// cloud.ErrIO when the file cannot be opened or checked at all (missing,
// not a database, malformed header). The file is never created.
func Check(ctx context.Context, path string) error {
	conn, err := sql.Open("sqlite3", dsn(path, url.Values{"mode": {"rw"}}))
	if err != nil {
		return cloud.IOErr("open database", path, err)
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)

	rows, err := conn.QueryContext(ctx, "PRAGMA integrity_check(1)")
	if err != nil {
		return cloud.IOErr("check database", path, err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return cloud.IOErr("check database", path, err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return cloud.IOErr("check database", path, err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", cloud.ErrIntegrity, strings.Join(problems, "; "))
	}
	return nil
}

// Info summarizes a database file.
type Info struct {
	Path        string `json:"path" yaml:"path"`
	Size        int64  `json:"size" yaml:"size"`
	PageSize    int64  `json:"page_size" yaml:"page_size"`
	PageCount   int64  `json:"page_count" yaml:"page_count"`
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`
	Tables      int    `json:"tables" yaml:"tables"`
}

// Inspect reads summary information from an existing database. Only reads
// are issued; the file is never created.
func Inspect(ctx context.Context, path string) (Info, error) {
	info := Info{Path: path}

	st, err := os.Stat(path)
	if err != nil {
		return info, cloud.IOErr("stat", path, err)
	}
	info.Size = st.Size()

	conn, err := sql.Open("sqlite3", dsn(path, url.Values{"mode": {"rw"}}))
	if err != nil {
		return info, cloud.IOErr("open database", path, err)
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)

	queries := []struct {
		sql  string
		dest any
	}{
		{"PRAGMA page_size", &info.PageSize},
		{"PRAGMA page_count", &info.PageCount},
		{"PRAGMA journal_mode", &info.JournalMode},
		{"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'", &info.Tables},
	}
	for _, q := range queries {
		if err := conn.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return info, cloud.IOErr("inspect database", path, err)
		}
	}

	return info, nil
}

// dsn builds a file: URI for the sqlite3 driver.
func dsn(path string, params url.Values) string {
	u := url.URL{Scheme: "file", OmitHost: true, Path: filepath.ToSlash(path)}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return u.String()
}
