// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/pendant-go/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the configuration search paths for the current
// operating system. If config.yaml exists in one of them, only that path is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			filepath.Join(homeDir, "AppData", "Roaming", "pendant-go"),
			".",
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "pendant-go"),
			"/etc/pendant-go",
			".",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// GetBasePath expands environment variables in path and creates the directory
// if it does not exist.
func GetBasePath(path string) (string, error) {
	basePath := filepath.Clean(os.ExpandEnv(path))
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return "", errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "create-base-path").
			Context("path", basePath).
			Build()
	}
	return basePath, nil
}
