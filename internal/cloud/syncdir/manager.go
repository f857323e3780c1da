// Package syncdir manages the folder inside the iCloud container that holds
// synced application files.
//
// The folder is <container>/Documents/sync. Every write and read is checked
// against the container namespace before the filesystem is touched, so a
// caller bug cannot push files outside the synced scope.
package syncdir

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/biblemarker/cloudsync/internal/cloud"
	"github.com/biblemarker/cloudsync/internal/cloud/container"
)

// DefaultSuffix is the sync folder path relative to the container root.
var DefaultSuffix = filepath.Join("Documents", "sync")

// Config configures a Manager.
type Config struct {
	// ContainerID is the identifier every accepted path must contain.
	ContainerID string

	// Suffix is appended to the container path. Empty means DefaultSuffix.
	Suffix string

	// Writer overrides the platform writer. Nil means DirectWriter.
	Writer Writer

	Logger *slog.Logger
}

// Manager derives, creates and writes into the sync folder.
type Manager struct {
	locator container.Locator
	writer  Writer
	config  Config
}

// NewManager creates a Manager.
func NewManager(locator container.Locator, config Config) *Manager {
	if config.ContainerID == "" {
		config.ContainerID = container.DefaultContainerID
	}
	if config.Suffix == "" {
		config.Suffix = DefaultSuffix
	}
	if config.Writer == nil {
		config.Writer = DirectWriter{}
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Manager{
		locator: locator,
		writer:  config.Writer,
		config:  config,
	}
}

// FolderPath resolves the container, appends the suffix and creates the
// directory tree if it is missing. Calling it repeatedly is harmless.
func (m *Manager) FolderPath(ctx context.Context) (string, error) {
	root, err := m.locator.Locate(ctx).Result()
	if err != nil {
		return "", err
	}

	dir := filepath.Join(root, m.config.Suffix)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", cloud.IOErr("create sync folder", dir, err)
	}
	return dir, nil
}

// CheckPath reports whether path lies lexically inside the container
// namespace. It never touches the filesystem.
//
// A path is accepted when it is absolute, one of its components is the
// container identifier in dotted or daemon (tilde) form, and it has no ".."
// components.
func (m *Manager) CheckPath(path string) error {
	return CheckNamespace(path, m.config.ContainerID)
}

// CheckNamespace is CheckPath for an explicit container identifier.
func CheckNamespace(path, containerID string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", cloud.ErrPathRejected)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s is not absolute", cloud.ErrPathRejected, path)
	}

	parts := strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' })
	tilde := container.UbiquityDirName(containerID)

	found := false
	for _, part := range parts {
		if part == ".." {
			return fmt.Errorf("%w: %s contains ..", cloud.ErrPathRejected, path)
		}
		if part == tilde || part == containerID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s is not inside %s", cloud.ErrPathRejected, path, tilde)
	}
	return nil
}

// WriteFile replaces path with data using the platform write strategy.
// The parent directory is created if needed.
func (m *Manager) WriteFile(path string, data []byte) error {
	if err := m.CheckPath(path); err != nil {
		return err
	}
	if err := m.writer.WriteFile(path, data, 0644); err != nil {
		return err
	}
	m.config.Logger.Debug("wrote sync file", "path", path, "bytes", len(data))
	return nil
}

// ReadFile reads a file inside the container namespace.
func (m *Manager) ReadFile(path string) ([]byte, error) {
	if err := m.CheckPath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cloud.IOErr("read", path, err)
	}
	return data, nil
}

// ProbeResult describes a successful test write.
type ProbeResult struct {
	Path    string        `json:"path" yaml:"path"`
	Bytes   int           `json:"bytes" yaml:"bytes"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Probe writes a uniquely named file into the sync folder, reads it back,
// verifies the content and removes it.
func (m *Manager) Probe(ctx context.Context) (ProbeResult, error) {
	start := time.Now()

	dir, err := m.FolderPath(ctx)
	if err != nil {
		return ProbeResult{}, err
	}

	path := filepath.Join(dir, ".probe-"+uuid.NewString()+".txt")
	payload := []byte(fmt.Sprintf("cloudsync write test %s\n", start.UTC().Format(time.RFC3339Nano)))

	if err := m.WriteFile(path, payload); err != nil {
		return ProbeResult{}, err
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			m.config.Logger.Warn("failed to remove probe file", "path", path, "error", err)
		}
	}()

	got, err := m.ReadFile(path)
	if err != nil {
		return ProbeResult{}, err
	}
	if !bytes.Equal(got, payload) {
		return ProbeResult{}, cloud.IOErr("verify", path, fmt.Errorf("read back %d bytes, wrote %d", len(got), len(payload)))
	}

	return ProbeResult{
		Path:    path,
		Bytes:   len(payload),
		Elapsed: time.Since(start),
	}, nil
}
