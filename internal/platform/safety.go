package platform

import (
	"os"
	"path/filepath"
	"strings"
)

// IsDevRun checks if the current process is running via `go run` or `go test`.
// Both build binaries in temporary directories.
func IsDevRun() bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}

	tempDir := os.TempDir()
	if strings.HasPrefix(strings.ToLower(exe), strings.ToLower(tempDir)) {
		return true
	}
	if strings.HasSuffix(exe, ".test") || strings.HasSuffix(exe, ".test.exe") {
		return true
	}
	return false
}

// ResolveStorePath returns where a local store actually lives. When
// forceTemp is set the path is re-rooted under a namespaced temporary
// directory, unless it already is inside the temporary directory.
func ResolveStorePath(userPath string, forceTemp bool) string {
	if !forceTemp {
		if userPath == "" {
			return "."
		}
		return userPath
	}

	cleanUserPath := filepath.Clean(userPath)
	rel, err := filepath.Rel(os.TempDir(), cleanUserPath)
	if err == nil && !strings.HasPrefix(rel, "..") && filepath.IsAbs(cleanUserPath) {
		return cleanUserPath
	}

	baseTemp := filepath.Join(os.TempDir(), "notesync-dev")
	subName := "default"
	if userPath != "" && userPath != "." && userPath != "./" {
		subName = filepath.Base(userPath)
		if subName == "." || subName == string(os.PathSeparator) {
			subName = "default"
		}
	}
	return filepath.Join(baseTemp, subName)
}

// useTemp reports whether local stores must be sandboxed.
func (o *options) useTemp() bool {
	bypass := o.engine.ReadOnly || !o.devSafety
	return o.forceTemp || (IsDevRun() && !bypass)
}
