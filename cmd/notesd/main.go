// Command notesd serves a notes backend over HTTP and WebSocket so that
// notesync clients can use it through the remote adapter.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/aretw0/notesync"
	"github.com/aretw0/notesync/pkg/core"
	"github.com/aretw0/notesync/pkg/server"
)

const (
	defaultAddr    = ":8080"
	defaultAdapter = notesync.AdapterSQLite
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	// .env is optional; the real environment always wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("notesd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	adapter := getenv("NOTESD_ADAPTER", defaultAdapter)
	uri := getenv("NOTESD_URI", notesync.DefaultDatabase)
	if adapter == notesync.AdapterRemote {
		return errors.New("notesd cannot serve a remote backend")
	}

	backend, err := notesync.OpenBackend(uri,
		notesync.WithAdapter(adapter),
		notesync.WithAutoInit(true),
		notesync.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}
	if init, ok := backend.(core.Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			return err
		}
	}

	srv := server.New(backend, server.WithLogger(logger))
	return srv.Serve(ctx, getenv("NOTESD_ADDR", defaultAddr))
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("NOTESD_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}
