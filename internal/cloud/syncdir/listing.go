package syncdir

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Entry is one child of a listed directory.
type Entry struct {
	Name string `json:"name" yaml:"name"`
	Dir  bool   `json:"dir" yaml:"dir"`
}

// Listing is the result of ListDir. A missing path is reported with
// Exists=false, never as an error. Entries is empty, not nil, for an
// existing empty directory.
type Listing struct {
	Exists  bool    `json:"exists" yaml:"exists"`
	Path    string  `json:"path" yaml:"path"`
	Entries []Entry `json:"entries" yaml:"entries"`

	// Error is set when the path exists but is not a directory, or could
	// not be fully read.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ListDir lists the direct children of path in enumeration order.
//
// Entries whose type cannot be determined (a dangling symlink, an entry
// removed mid-listing) are skipped rather than failing the listing.
func ListDir(path string) Listing {
	listing := Listing{Path: path, Entries: []Entry{}}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return listing
	}
	listing.Exists = true
	if err != nil {
		listing.Error = err.Error()
		return listing
	}
	if !info.IsDir() {
		listing.Error = "not a directory"
		return listing
	}

	// ReadDir returns what it managed to read alongside any error
	entries, err := os.ReadDir(path)
	if err != nil {
		listing.Error = err.Error()
	}

	for _, entry := range entries {
		isDir, ok := entryIsDir(path, entry)
		if !ok {
			continue
		}
		listing.Entries = append(listing.Entries, Entry{Name: entry.Name(), Dir: isDir})
	}

	return listing
}

// entryIsDir resolves symlinks so a link to a directory lists as one.
func entryIsDir(parent string, entry fs.DirEntry) (bool, bool) {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.IsDir(), true
	}
	info, err := os.Stat(filepath.Join(parent, entry.Name()))
	if err != nil {
		return false, false
	}
	return info.IsDir(), true
}
