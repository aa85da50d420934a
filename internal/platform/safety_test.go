package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveStorePath(t *testing.T) {
	t.Parallel()

	tempRoot := os.TempDir()
	devBase := filepath.Join(tempRoot, "notesync-dev")

	tests := []struct {
		name      string
		userPath  string
		forceTemp bool
		expected  string
	}{
		{"Normal Mode - Empty", "", false, "."},
		{"Normal Mode - Specific Path", "/some/path", false, "/some/path"},
		{"Dev Mode - Empty Path", "", true, filepath.Join(devBase, "default")},
		{"Dev Mode - Current Dir", ".", true, filepath.Join(devBase, "default")},
		{"Dev Mode - Relative Name", "my-vault", true, filepath.Join(devBase, "my-vault")},
		{"Dev Mode - Clean Name", "../bad/path", true, filepath.Join(devBase, "path")},
		{"Dev Mode - Database File", "notes.db", true, filepath.Join(devBase, "notes.db")},
		{"Dev Mode - Exception for Temp Dir", filepath.Join(tempRoot, "my-test"), true, filepath.Join(tempRoot, "my-test")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveStorePath(tt.userPath, tt.forceTemp)
			if got != tt.expected {
				t.Errorf("ResolveStorePath(%q, %v) = %q; want %q", tt.userPath, tt.forceTemp, got, tt.expected)
			}
		})
	}
}

func TestIsDevRun(t *testing.T) {
	if !IsDevRun() {
		t.Errorf("IsDevRun() = false; want true inside go test")
	}
}

func TestOptions_UseTemp(t *testing.T) {
	if !parseOptions(nil).useTemp() {
		t.Error("expected sandbox under go test")
	}
	if parseOptions([]Option{WithDevSafety(false)}).useTemp() {
		t.Error("dev safety disabled must not sandbox")
	}
	if parseOptions([]Option{WithReadOnly(true)}).useTemp() {
		t.Error("read-only must bypass the sandbox")
	}
	if !parseOptions([]Option{WithDevSafety(false), WithForceTemp(true)}).useTemp() {
		t.Error("force temp always sandboxes")
	}
}
