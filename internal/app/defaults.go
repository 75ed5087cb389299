package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SNIPSYNC_CONFIG_PATH: config file location (default: ~/.config/snipsync.toml)
//   - SNIPSYNC_HOME: base directory for snipsync data (default: ~/.local/share/snipsync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"repo_dir":    filepath.Join(baseDir, "repo"),
	}, nil
}

// getConfigPath returns the config file path, checking SNIPSYNC_CONFIG_PATH env var first,
// then falling back to the default ~/.config/snipsync.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("SNIPSYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "snipsync.toml"), nil
}

// getBaseDir returns the base directory for snipsync data, checking SNIPSYNC_HOME env var first,
// then falling back to the XDG default ~/.local/share/snipsync.
func getBaseDir() (string, error) {
	if path := os.Getenv("SNIPSYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "snipsync"), nil
}
