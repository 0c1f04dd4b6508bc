package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const appDir = "oratoria"

// ResolvePath applies CLI, XDG and home fallback rules for config.jsonc.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, appDir, "config.jsonc"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}
	return filepath.Join(home, ".config", appDir, "config.jsonc"), nil
}

// DataDir is where the default sqlite journal lives.
func DataDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, appDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for data dir")
	}
	return filepath.Join(home, ".local", "share", appDir), nil
}
