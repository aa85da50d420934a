package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// buildBinary builds the notesync binary in dir and returns its path.
func buildBinary(t *testing.T, dir string) string {
	t.Helper()
	bin := filepath.Join(dir, "notesync.exe")
	buildCmd := exec.Command("go", "build", "-o", bin, "../../cmd/notesync")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build notesync: %v\n%s", err, string(out))
	}
	return bin
}

// run executes the binary in dir with extra environment variables and
// returns its stdout. Any failure is fatal.
func run(t *testing.T, dir, bin string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("notesync %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout.String(), stderr.String())
	}
	return stdout.String()
}

// runFail executes the binary and expects a non-zero exit. It returns stderr.
func runFail(t *testing.T, dir, bin string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err == nil {
		t.Fatalf("notesync %v succeeded, expected a failure\nstdout: %s", args, stdout.String())
	}
	return stderr.String()
}
