package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// DatabaseFile is the database file name inside a rumormill directory.
const DatabaseFile = "rumormill.db"

// GlobalRumormillPath returns the path to the global .rumormill directory.
// On Unix: ~/.rumormill
// On Windows: %USERPROFILE%\.rumormill
func GlobalRumormillPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".rumormill"), nil
}

// LocalRumormillPath returns the path to the local .rumormill directory
// for the given simulation root.
func LocalRumormillPath(root string) string {
	return filepath.Join(root, ".rumormill")
}

// DatabasePath returns the database file path inside dir.
func DatabasePath(dir string) string {
	return filepath.Join(dir, DatabaseFile)
}

// EnsureDir creates dir if it doesn't exist. Returns nil if the directory
// already exists or was successfully created.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
