package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the name of the project configuration file.
const ConfigFileName = "notesync.yaml"

// FindRoot looks upwards from startDir for a vault root indicator:
// a .notesync directory, a .git directory or a notesync.yaml file.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, ".notesync") || hasFile(dir, ".git") || hasFile(dir, ConfigFileName) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("root not found")
}

// FindConfig looks upwards from startDir for notesync.yaml and returns its path.
func FindConfig(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, ConfigFileName) {
			return filepath.Join(dir, ConfigFileName), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%s not found", ConfigFileName)
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
