package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClient_Lock(t *testing.T) {
	tmpDir := t.TempDir()
	client := NewClient(tmpDir, ".test.lock", nil)

	unlock, err := client.Lock(context.Background())
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	lockPath := filepath.Join(tmpDir, ".test.lock")
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Error("Lock file not created")
	}

	// A second acquisition gives up once its context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Lock(ctx); err == nil {
		t.Error("expected contended lock to time out")
	}

	unlock()

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("Lock file not removed after unlock")
	}
}

func TestClient_InitCommit(t *testing.T) {
	if !IsInstalled() {
		t.Skip("git not installed")
	}
	ctx := context.Background()
	tmpDir := t.TempDir()
	client := NewClient(tmpDir, "", nil)

	if err := client.Init(ctx); err != nil {
		t.Fatalf("Failed to init: %v", err)
	}
	if !client.IsRepo(ctx) {
		t.Fatal("expected a git work tree")
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "a.yaml"), []byte("id: a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := client.Add(ctx, "a.yaml"); err != nil {
		t.Fatalf("Failed to add: %v", err)
	}
	if err := client.Commit(ctx, "save a"); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	if err := client.Commit(ctx, "nothing"); err != nil {
		t.Fatalf("empty commit should be a no-op: %v", err)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status != "" {
		t.Errorf("expected clean tree, got %q", status)
	}

	if client.HasRemote(ctx) {
		t.Error("fresh repo has no remote")
	}
	if err := client.Sync(ctx); err != nil {
		t.Errorf("sync without remote should be a no-op: %v", err)
	}
}
