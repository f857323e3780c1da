// Package migrate moves the application's database out of the cloud container
// and into the device-local data directory, once.
//
// Run is safe to call on every startup. It never overwrites a local database,
// never touches the legacy file, and on any failure leaves the local location
// absent so the application's normal fresh-database path takes over.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/biblemarker/cloudsync/internal/cloud"
	"github.com/biblemarker/cloudsync/internal/cloud/container"
	"github.com/biblemarker/cloudsync/internal/localdb"
)

// LegacyDir is where the legacy database lives, relative to the container.
const LegacyDir = "Documents"

// Checker verifies a database file. It returns an error wrapping
// cloud.ErrIntegrity when the file is inconsistent and any other error when
// the check could not be performed.
type Checker func(ctx context.Context, path string) error

// Config configures an Engine.
type Config struct {
	// DataDir is the local application data directory.
	DataDir string
	// AppName names the database file, <AppName>.db.
	AppName string
	// Locator finds the cloud container.
	Locator container.Locator
	// Checker defaults to localdb.Check.
	Checker Checker
	// JournalPath, when set, records every attempt.
	JournalPath string
	Logger      *slog.Logger
}

// Engine runs the legacy database migration.
type Engine struct {
	cfg    Config
	local  localdb.FileSet
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Checker == nil {
		cfg.Checker = localdb.Check
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		cfg:    cfg,
		local:  localdb.NewFileSet(cfg.DataDir, cfg.AppName),
		logger: logger,
		now:    time.Now,
	}
}

// LocalPath returns the local database path.
func (e *Engine) LocalPath() string {
	return e.local.Primary
}

// LegacyPath returns where the legacy database would be inside containerPath.
func (e *Engine) LegacyPath(containerPath string) string {
	return LegacyPath(containerPath, e.cfg.AppName)
}

// LegacyPath returns <container>/Documents/<app>.db.
func LegacyPath(containerPath, appName string) string {
	return filepath.Join(containerPath, LegacyDir, appName+".db")
}

// Run performs one migration attempt and returns its outcome.
func (e *Engine) Run(ctx context.Context) Outcome {
	out, source := e.run(ctx)

	attrs := []any{"outcome", out.Kind.String(), "target", e.local.Primary}
	if out.Detail != "" {
		attrs = append(attrs, "detail", out.Detail)
	}
	switch {
	case out.Kind.Failed():
		e.logger.Warn("database migration failed", attrs...)
	case out.Kind == Migrated:
		e.logger.Info("database migrated", append(attrs, "source", source)...)
	default:
		e.logger.Debug("database migration skipped", attrs...)
	}

	if e.cfg.JournalPath != "" {
		a := Attempt{
			At:      e.now().UTC(),
			Outcome: out.Kind,
			Detail:  out.Detail,
			Source:  source,
			Target:  e.local.Primary,
		}
		if err := AppendJournal(e.cfg.JournalPath, a); err != nil {
			e.logger.Warn("failed to record migration attempt", "error", err)
		}
	}

	return out
}

func (e *Engine) run(ctx context.Context) (Outcome, string) {
	// 1. Never overwrite local data
	hasData, err := e.local.HasData()
	if err != nil {
		return Outcome{Kind: FailedIO, Detail: err.Error()}, ""
	}
	if hasData {
		return Outcome{Kind: SkippedAlreadyLocal}, ""
	}

	// 2. No container is a steady state, not an error
	avail := e.cfg.Locator.Locate(ctx)
	if !avail.OK() {
		return Outcome{Kind: SkippedNoContainer, Detail: avail.Err.Error()}, ""
	}

	// 3. Legacy database present?
	source := e.LegacyPath(avail.Path)
	info, err := os.Stat(source)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Outcome{Kind: SkippedNoSource}, source
	case err != nil:
		return Outcome{Kind: FailedIO, Detail: cloud.IOErr("stat", source, err).Error()}, source
	case !info.Mode().IsRegular():
		return Outcome{Kind: FailedIO, Detail: fmt.Sprintf("%s is not a regular file", source)}, source
	}

	// 4. Primary file only; stale local side files would pair with the copy
	if err := e.local.RemoveSideFiles(); err != nil {
		return Outcome{Kind: FailedIO, Detail: err.Error()}, source
	}
	if err := copyPrimary(source, e.local.Primary); err != nil {
		e.rollback()
		return Outcome{Kind: FailedIO, Detail: err.Error()}, source
	}

	// 5. Verify the copy
	if err := e.cfg.Checker(ctx, e.local.Primary); err != nil {
		e.rollback()
		if errors.Is(err, cloud.ErrIntegrity) {
			return Outcome{Kind: FailedCorrupt, Detail: err.Error()}, source
		}
		return Outcome{Kind: FailedIO, Detail: err.Error()}, source
	}

	return Outcome{Kind: Migrated}, source
}

// rollback removes the local file set so no broken database survives.
func (e *Engine) rollback() {
	if _, err := e.local.Remove(); err != nil {
		e.logger.Error("failed to remove migrated copy", "path", e.local.Primary, "error", err)
	}
}

// copyPrimary copies src to dst through a scratch file in dst's directory,
// so dst is either absent or complete. src is opened read-only.
func copyPrimary(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return cloud.IOErr("open", src, err)
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return cloud.IOErr("create directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return cloud.IOErr("create temp file in", dir, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := io.Copy(tmp, in); err != nil {
		cleanup()
		return cloud.IOErr("copy", src, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return cloud.IOErr("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return cloud.IOErr("close", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return cloud.IOErr("chmod", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return cloud.IOErr("rename", tmpName, err)
	}
	return nil
}
