// Package app is the command layer between the cloudsync core and whatever
// hosts it: the CLI and the WebSocket bridge.
//
// Every operation takes and returns plain data. Errors returned from this
// package are formatted for display as-is.
package app

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/biblemarker/cloudsync/internal/cloud"
	"github.com/biblemarker/cloudsync/internal/cloud/container"
	"github.com/biblemarker/cloudsync/internal/cloud/syncdir"
	"github.com/biblemarker/cloudsync/internal/config"
	"github.com/biblemarker/cloudsync/internal/localdb"
	"github.com/biblemarker/cloudsync/internal/localdb/migrate"
)

// Status is the answer to "is iCloud usable right now".
type Status struct {
	Available     bool   `json:"available" yaml:"available"`
	ContainerPath string `json:"container_path,omitempty" yaml:"container_path,omitempty"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// SyncState summarizes the sync folder for status displays.
type SyncState string

const (
	StateSynced      SyncState = "synced"
	StateSyncing     SyncState = "syncing"
	StateOffline     SyncState = "offline"
	StateError       SyncState = "error"
	StateUnavailable SyncState = "unavailable"
)

// SyncStatus reports the state of the sync folder.
type SyncStatus struct {
	State SyncState `json:"state" yaml:"state"`
	// LastSync is the newest modification time in the sync folder.
	LastSync *time.Time `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	// PendingChanges counts staged writes not yet promoted.
	PendingChanges int    `json:"pending_changes" yaml:"pending_changes"`
	Error          string `json:"error,omitempty" yaml:"error,omitempty"`
}

// MigrationResult is the outcome of MigrateLegacyDatabase.
type MigrationResult struct {
	Migrated bool   `json:"migrated" yaml:"migrated"`
	Message  string `json:"message" yaml:"message"`
	Outcome  string `json:"outcome" yaml:"outcome"`
}

// Options configures a Service.
type Options struct {
	AppName     string
	ContainerID string
	DataDir     string
	JournalPath string

	Locator container.Locator
	Sync    *syncdir.Manager
	// Checker overrides the migration integrity check. Tests only.
	Checker migrate.Checker
	// Lock serializes migrate and delete across processes. Nil means
	// localdb.LockDir.
	Lock   localdb.Locker
	Logger *slog.Logger
}

// Service implements the cloudsync operations.
type Service struct {
	opts    Options
	locator container.Locator
	sync    *syncdir.Manager
	local   localdb.FileSet
	logger  *slog.Logger

	// mu serializes migrate and delete within the process; the data
	// directory lock covers other processes.
	mu sync.Mutex
}

// New creates a Service. A nil Sync manager is built from the locator.
func New(opts Options) *Service {
	if opts.ContainerID == "" {
		opts.ContainerID = container.DefaultContainerID
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	if opts.Lock == nil {
		opts.Lock = localdb.LockDir
	}
	if opts.Sync == nil {
		opts.Sync = syncdir.NewManager(opts.Locator, syncdir.Config{
			ContainerID: opts.ContainerID,
			Logger:      opts.Logger,
		})
	}

	return &Service{
		opts:    opts,
		locator: opts.Locator,
		sync:    opts.Sync,
		local:   localdb.NewFileSet(opts.DataDir, opts.AppName),
		logger:  opts.Logger,
	}
}

// FromConfig wires a Service from loaded configuration.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Service {
	platform := cfg.ResolvedPlatform()

	resolver := container.NewResolver(cfg.NewProvider(), nil, container.Config{
		ContainerID:  cfg.ContainerID,
		FallbackRoot: cfg.FallbackRoot,
		Platform:     platform,
		Logger:       logger.With("component", "resolver"),
	})
	locator := container.NewBounded(resolver, cfg.ResolveTimeout)

	manager := syncdir.NewManager(locator, syncdir.Config{
		ContainerID: cfg.ContainerID,
		Suffix:      cfg.SyncSuffix,
		Writer:      syncdir.WriterFor(platform.Strategy),
		Logger:      logger.With("component", "syncdir"),
	})

	return New(Options{
		AppName:     cfg.AppName,
		ContainerID: cfg.ContainerID,
		DataDir:     cfg.DataDir,
		JournalPath: cfg.JournalPath(),
		Locator:     locator,
		Sync:        manager,
		Logger:      logger,
	})
}

// LocalDatabase returns the local database file set.
func (s *Service) LocalDatabase() localdb.FileSet {
	return s.local
}

// Sync returns the sync folder manager.
func (s *Service) Sync() *syncdir.Manager {
	return s.sync
}

// CheckAvailability reports whether the container can be used.
func (s *Service) CheckAvailability(ctx context.Context) Status {
	a := s.locator.Locate(ctx)
	if !a.OK() {
		return Status{Available: false, Error: a.Err.Error()}
	}
	return Status{Available: true, ContainerPath: a.Path}
}

// SyncFolderPath returns the sync folder, creating it if needed.
func (s *Service) SyncFolderPath(ctx context.Context) (string, error) {
	return s.sync.FolderPath(ctx)
}

// WriteSyncFile writes content to path inside the container.
func (s *Service) WriteSyncFile(path string, content []byte) error {
	if err := s.sync.WriteFile(path, content); err != nil {
		return err
	}
	s.logger.Debug("wrote sync file", "path", path, "bytes", len(content))
	return nil
}

// ReadSyncFile reads path inside the container.
func (s *Service) ReadSyncFile(path string) ([]byte, error) {
	return s.sync.ReadFile(path)
}

// ListSyncDir lists path. It never fails; see syncdir.ListDir.
func (s *Service) ListSyncDir(path string) syncdir.Listing {
	return syncdir.ListDir(path)
}

// exclusive holds the local database lock for the duration of f.
func (s *Service) exclusive(f func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.opts.Lock(s.opts.DataDir)
	if err != nil {
		return err
	}
	defer unlock()
	return f()
}

// MigrateLegacyDatabase moves the database out of the container once. It
// never overlaps a DeleteLocalDatabase or another migration.
func (s *Service) MigrateLegacyDatabase(ctx context.Context) MigrationResult {
	var out migrate.Outcome
	err := s.exclusive(func() error {
		out = s.runMigration(ctx)
		return nil
	})
	if err != nil {
		s.logger.Warn("migration not attempted", "error", err)
		out = migrate.Outcome{Kind: migrate.FailedIO, Detail: err.Error()}
	}
	return MigrationResult{
		Migrated: out.Migrated(),
		Message:  out.Message(),
		Outcome:  out.Kind.String(),
	}
}

func (s *Service) runMigration(ctx context.Context) migrate.Outcome {
	engine := migrate.NewEngine(migrate.Config{
		DataDir:     s.opts.DataDir,
		AppName:     s.opts.AppName,
		Locator:     s.locator,
		Checker:     s.opts.Checker,
		JournalPath: s.opts.JournalPath,
		Logger:      s.logger.With("component", "migrate"),
	})

	return engine.Run(ctx)
}

// LastMigration returns the most recent journaled migration attempt.
func (s *Service) LastMigration() (migrate.Attempt, bool, error) {
	if s.opts.JournalPath == "" {
		return migrate.Attempt{}, false, nil
	}
	rec, err := migrate.LoadJournal(s.opts.JournalPath)
	if err != nil {
		return migrate.Attempt{}, false, err
	}
	a, ok := rec.Last()
	return a, ok, nil
}

// DeleteLocalDatabase removes the local database and its side files. It
// never overlaps a migration.
func (s *Service) DeleteLocalDatabase() (localdb.Confirmation, error) {
	conf := localdb.Confirmation{Path: s.local.Primary, Removed: []string{}}
	err := s.exclusive(func() error {
		var err error
		conf, err = s.local.Remove()
		return err
	})
	if err != nil {
		s.logger.Error("failed to delete local database", "path", s.local.Primary, "error", err)
		return conf, err
	}
	if len(conf.Removed) > 0 {
		s.logger.Info("deleted local database", "path", s.local.Primary, "files", len(conf.Removed))
	}
	return conf, nil
}

// SyncStatus summarizes the sync folder.
func (s *Service) SyncStatus(ctx context.Context) SyncStatus {
	dir, err := s.sync.FolderPath(ctx)
	if err != nil {
		return SyncStatus{State: stateFor(err), Error: err.Error()}
	}

	var (
		latest  time.Time
		pending int
	)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if isStaged(d.Name()) {
			pending++
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if walkErr != nil {
		return SyncStatus{State: StateError, Error: cloud.IOErr("scan", dir, walkErr).Error()}
	}

	st := SyncStatus{State: StateSynced, PendingChanges: pending}
	if pending > 0 {
		st.State = StateSyncing
	}
	if !latest.IsZero() {
		t := latest.UTC()
		st.LastSync = &t
	}
	return st
}

// TestWrite writes, reads back and removes a probe file in the sync folder.
func (s *Service) TestWrite(ctx context.Context) (syncdir.ProbeResult, error) {
	return s.sync.Probe(ctx)
}

// LegacyDatabasePath returns where the legacy database lives in the
// container. Nothing is created.
func (s *Service) LegacyDatabasePath(ctx context.Context) (string, error) {
	root, err := s.locator.Locate(ctx).Result()
	if err != nil {
		return "", err
	}
	return migrate.LegacyPath(root, s.opts.AppName), nil
}

// InitLocalDatabase creates the local database if it is missing.
func (s *Service) InitLocalDatabase() (string, error) {
	err := s.exclusive(func() error {
		db, err := localdb.Open(s.local.Primary)
		if err != nil {
			return err
		}
		return db.Close()
	})
	return s.local.Primary, err
}

// LocalDatabasePath returns the local database path.
func (s *Service) LocalDatabasePath() string {
	return s.local.Primary
}

func stateFor(err error) SyncState {
	switch {
	case errors.Is(err, cloud.ErrTimeout):
		return StateOffline
	case errors.Is(err, cloud.ErrUnavailable), errors.Is(err, cloud.ErrPlatformUnsupported):
		return StateUnavailable
	default:
		return StateError
	}
}

// isStaged matches scratch files left by syncdir.StagedWriter.
func isStaged(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}
