package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"modelhub/internal/logging"
)

const (
	// DefaultStateDir is the default location for modelhub state files
	DefaultStateDir = "/var/lib/modelhub"
	// DefaultStatePermissions is the default permission for state directories
	DefaultStatePermissions = 0o750
	// DefaultFilePermissions is the default permission for state files
	DefaultFilePermissions = 0o600
)

// GetStateDir returns the state directory from environment or uses the provided default.
// It returns an absolute path when possible.
func GetStateDir(defaultDir string) string {
	if env := os.Getenv("MODELHUB_STATE_DIR"); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
		return env
	}
	return defaultDir
}

// EnsureStateDirectory creates the state directory if it doesn't exist.
func EnsureStateDirectory(path string) error {
	if err := os.MkdirAll(path, DefaultStatePermissions); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}

// AtomicWriteFile writes data to a file atomically by first writing to a temp file
// and then renaming it to the target path. This ensures the file is never partially written.
func AtomicWriteFile(path string, data []byte, perm os.FileMode, logger *logging.Logger) error {
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			if logger != nil {
				logger.Warn("fsutil.tmp_cleanup_failed", "Failed to remove temp file", map[string]interface{}{
					"path":  tmpPath,
					"error": removeErr.Error(),
				})
			}
		}
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// DirSize returns the total size in bytes of all regular files under root.
// A missing directory counts as zero bytes.
func DirSize(root string) (int64, error) {
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to walk directory: %w", err)
	}

	return total, nil
}
