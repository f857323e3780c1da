package localdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/biblemarker/cloudsync/internal/cloud"
)

// Side file suffixes SQLite keeps next to a WAL-mode database.
const (
	WALSuffix = "-wal"
	SHMSuffix = "-shm"
)

// FileSet is a database's primary file plus its side files. The files are
// deleted together; only the primary is ever copied.
type FileSet struct {
	Primary string
}

// NewFileSet returns the file set for <dir>/<app>.db.
func NewFileSet(dir, appName string) FileSet {
	return FileSet{Primary: filepath.Join(dir, appName+".db")}
}

// WAL returns the write-ahead log path.
func (f FileSet) WAL() string {
	return f.Primary + WALSuffix
}

// SHM returns the shared-memory index path.
func (f FileSet) SHM() string {
	return f.Primary + SHMSuffix
}

// Paths returns the primary and both side files.
func (f FileSet) Paths() []string {
	return []string{f.Primary, f.WAL(), f.SHM()}
}

// PrimarySize returns the size of the primary file. A missing file reports
// exists=false and no error.
func (f FileSet) PrimarySize() (size int64, exists bool, err error) {
	info, err := os.Stat(f.Primary)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, cloud.IOErr("stat", f.Primary, err)
	}
	return info.Size(), true, nil
}

// HasData reports whether the primary file exists with at least one byte.
// An empty primary file counts as no database.
func (f FileSet) HasData() (bool, error) {
	size, exists, err := f.PrimarySize()
	if err != nil {
		return false, err
	}
	return exists && size > 0, nil
}

// Confirmation reports what Remove deleted.
type Confirmation struct {
	Path    string   `json:"path" yaml:"path"`
	Removed []string `json:"removed" yaml:"removed"`
}

// Message is a display string for the confirmation.
func (c Confirmation) Message() string {
	if len(c.Removed) == 0 {
		return fmt.Sprintf("No local database at %s; nothing to delete", c.Path)
	}
	return fmt.Sprintf("Local database deleted (%d files). A fresh database will be created on next launch.", len(c.Removed))
}

// Remove deletes the primary file and both side files.
//
// Missing files are not errors, so calling Remove on a clean directory is a
// no-op success. Every file is attempted; failures (permission denied, file
// in use) are returned together and verbatim.
func (f FileSet) Remove() (Confirmation, error) {
	conf := Confirmation{Path: f.Primary, Removed: []string{}}

	var errs []error
	for _, p := range f.Paths() {
		if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := os.Remove(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, cloud.IOErr("delete", p, err))
			continue
		}
		conf.Removed = append(conf.Removed, p)
	}

	return conf, errors.Join(errs...)
}

// RemoveSideFiles deletes only the -wal and -shm files.
func (f FileSet) RemoveSideFiles() error {
	var errs []error
	for _, p := range []string{f.WAL(), f.SHM()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, cloud.IOErr("delete", p, err))
		}
	}
	return errors.Join(errs...)
}
