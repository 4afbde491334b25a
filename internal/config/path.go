package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the default data directory for the host OS.
// It prefers per-user application data locations and falls back to a
// dotdir in the home directory.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "offsync")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}

	// macOS: ~/Library/Application Support/offsync
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "offsync")
	}

	// Windows: %USERPROFILE%/AppData/Local/offsync
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "offsync")
	}

	// Linux and everything else: ~/.local/share/offsync
	return filepath.Join(homeDir, ".local", "share", "offsync")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
