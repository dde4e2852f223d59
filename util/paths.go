package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDir returns the node's data directory under the platform config root
// (on Linux ~/.config/loxodon) and creates it on first use.
func DataDir() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}

	dir := filepath.Join(root, Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dir, nil
}

// ResolveFilePath picks where a node file (config, database) lives. A copy
// in the working directory wins, otherwise the path under the data
// directory is returned, for reading and for creation alike.
func ResolveFilePath(filename string) string {
	if _, err := os.Stat(filename); err == nil {
		return filename
	}

	dir, err := DataDir()
	if err != nil {
		return filename
	}

	return filepath.Join(dir, filename)
}
