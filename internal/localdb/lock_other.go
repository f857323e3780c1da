//go:build !unix

package localdb

import (
	"fmt"
	"os"
)

// LockDir only ensures the directory exists on platforms without flock.
func LockDir(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return func() {}, nil
}
