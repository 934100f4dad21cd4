// Package atomicfile replaces file contents all-or-nothing, so readers
// see either the old or the new content and never a truncated file.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Write atomically replaces path with data and gives it mode perm
// regardless of umask. The parent directory is created when missing.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	err := renameio.WriteFile(path, data, perm,
		renameio.WithTempDir(dir),
		renameio.WithStaticPermissions(perm))
	if err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}

	// renameio syncs the file but not the directory entry.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}
