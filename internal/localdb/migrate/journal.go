package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// JournalFile is the default journal name inside the data directory.
const JournalFile = "migration.toml"

// maxAttempts bounds how many attempts the journal keeps.
const maxAttempts = 20

// Attempt is one journaled migration attempt.
type Attempt struct {
	At      time.Time `toml:"at"`
	Outcome Kind      `toml:"outcome"`
	Detail  string    `toml:"detail,omitempty"`
	Source  string    `toml:"source,omitempty"`
	Target  string    `toml:"target"`
}

// Record is the on-disk journal document.
type Record struct {
	Attempts []Attempt `toml:"attempt"`
}

// Last returns the most recent attempt, if any.
func (r Record) Last() (Attempt, bool) {
	if len(r.Attempts) == 0 {
		return Attempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}

// LoadJournal reads the journal at path. A missing file is an empty record.
func LoadJournal(path string) (Record, error) {
	var rec Record
	if _, err := toml.DecodeFile(path, &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("failed to read migration journal %s: %w", path, err)
	}
	return rec, nil
}

// AppendJournal adds an attempt to the journal at path, keeping only the most
// recent attempts. The file is replaced atomically.
func AppendJournal(path string, a Attempt) error {
	rec, err := LoadJournal(path)
	if err != nil {
		// An unreadable journal is replaced rather than blocking new entries
		rec = Record{}
	}

	rec.Attempts = append(rec.Attempts, a)
	if n := len(rec.Attempts); n > maxAttempts {
		rec.Attempts = rec.Attempts[n-maxAttempts:]
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp journal: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := toml.NewEncoder(tmp).Encode(rec); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode migration journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp journal: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace migration journal: %w", err)
	}
	return nil
}
