// Command bench measures how long a full note query takes on a large fs
// vault, first with an empty parse cache and then with a warm one.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/notesync"
	"github.com/aretw0/notesync/pkg/adapters/fs"
)

func main() {
	count := flag.Int("count", 1000, "Number of notes to generate")
	keep := flag.Bool("keep", false, "Keep the benchmark vault after running")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "notesync_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	fmt.Printf("Generating %d notes in %s...\n", *count, benchDir)
	startGen := time.Now()

	// Plain files simulate a vault written by another process.
	notesPath := filepath.Join(benchDir, "notes")
	if err := os.MkdirAll(notesPath, 0755); err != nil {
		panic(err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i := 0; i < *count; i++ {
		content := fmt.Sprintf("id: note-%d\ncontent: |\n  # Benchmark Note %d\n  This is a test note.\nowner_id: bench\ncreated_at: %s\nupdated_at: %s\nversion: 1\nlast_changed_at: %s\n",
			i, i, now, now, now)
		filename := filepath.Join(notesPath, fmt.Sprintf("note-%d.yaml", i))
		if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
			panic(err)
		}
	}
	fmt.Printf("Generation took: %v\n", time.Since(startGen))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	// Gitless keeps the numbers about parsing and IO.
	fmt.Println("Running QueryNotes (Run 1 - Cold)...")
	cold, n1 := query(ctx, benchDir, logger)
	fmt.Printf("Run 1 Result: %v (Items: %d)\n", cold, n1)

	// A fresh backend only shares the on-disk index with the first one.
	fmt.Println("Running QueryNotes (Run 2 - Warm)...")
	warm, n2 := query(ctx, benchDir, logger)
	fmt.Printf("Run 2 Result: %v (Items: %d)\n", warm, n2)

	fmt.Println("Running client Refresh (Run 3 - Store)...")
	refresh, n3 := refresh(ctx, benchDir, logger)
	fmt.Printf("Run 3 Result: %v (Items: %d)\n", refresh, n3)

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d notes):\n", *count)
	fmt.Printf("  Cold:    %v\n", cold)
	fmt.Printf("  Warm:    %v\n", warm)
	fmt.Printf("  Refresh: %v\n", refresh)
	fmt.Printf("--------------------------------------------------\n")
}

func query(ctx context.Context, dir string, logger *slog.Logger) (time.Duration, int) {
	backend := fs.New(fs.Config{Path: dir, Gitless: true, Logger: logger})
	if err := backend.Initialize(ctx); err != nil {
		panic(err)
	}

	start := time.Now()
	notes, err := backend.QueryNotes(ctx)
	if err != nil {
		panic(err)
	}
	return time.Since(start), len(notes)
}

func refresh(ctx context.Context, dir string, logger *slog.Logger) (time.Duration, int) {
	c, err := notesync.New(dir,
		notesync.WithAdapter(notesync.AdapterFS),
		notesync.WithVersioning(false),
		notesync.WithDevSafety(false),
		notesync.WithLogger(logger),
	)
	if err != nil {
		panic(err)
	}
	defer c.Close()
	if err := c.Start(ctx); err != nil {
		panic(err)
	}

	start := time.Now()
	if err := c.Refresh(ctx); err != nil {
		panic(err)
	}
	elapsed := time.Since(start)

	return elapsed, len(c.ListNotes())
}
