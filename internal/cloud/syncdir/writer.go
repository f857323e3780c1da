package syncdir

import (
	"os"
	"path/filepath"

	"github.com/biblemarker/cloudsync/internal/cloud"
)

// Writer puts a complete file into the sync folder so the cloud daemon
// picks it up. The parent directory is created if missing.
type Writer interface {
	WriteFile(path string, data []byte, perm os.FileMode) error
}

// WriterFor returns the writer implementing a platform strategy.
func WriterFor(s cloud.WriteStrategy) Writer {
	if s == cloud.StrategyStaged {
		return StagedWriter{}
	}
	return DirectWriter{}
}

// DirectWriter writes the destination in place.
type DirectWriter struct{}

// WriteFile implements Writer.
func (DirectWriter) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return cloud.IOErr("create directory", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return cloud.IOErr("write", path, err)
	}
	return nil
}

// StagedWriter writes a hidden scratch file next to the destination,
// flushes it, and promotes it over the destination with a rename. Readers
// and the daemon see either the old file or the complete new one.
type StagedWriter struct{}

// WriteFile implements Writer.
func (StagedWriter) WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return cloud.IOErr("create directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return cloud.IOErr("create scratch file in", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return cloud.IOErr("write", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return cloud.IOErr("flush", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return cloud.IOErr("close", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return cloud.IOErr("chmod", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return cloud.IOErr("promote", path, err)
	}
	return nil
}
