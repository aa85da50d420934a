package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/notesync"
)

var (
	verbose    bool
	configPath string
	adapter    string
	uri        string
	username   string
	nover      bool
	autoInit   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "notesync",
	Short: "A local-first note client that keeps in sync with its backend",
	Long: `notesync mirrors your notes locally and keeps them in sync with a backend:
a directory of YAML files, a SQLite database or a notesd server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: nearest notesync.yaml)")
	rootCmd.PersistentFlags().StringVar(&adapter, "adapter", "", "Backend adapter: fs, sqlite, remote or memory")
	rootCmd.PersistentFlags().StringVar(&uri, "uri", "", "Vault directory, database file or server URL")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", "", "Owner username of new notes")
	rootCmd.PersistentFlags().BoolVar(&nover, "no-versioning", false, "Disable git commits in fs vaults")
	rootCmd.PersistentFlags().BoolVar(&autoInit, "auto-init", false, "Create the vault if missing")
}

// loadConfig merges the config file, NOTESYNC_* variables and flags, in
// increasing precedence.
func loadConfig(cmd *cobra.Command) (notesync.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return notesync.Config{}, err
	}

	path := configPath
	if path == "" {
		path, _ = notesync.FindConfig(cwd)
	}

	var cfg notesync.Config
	if path != "" {
		cfg, err = notesync.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		slog.Debug("loaded config", "path", path)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("adapter") {
		cfg.Adapter = adapter
	}
	if flags.Changed("uri") {
		cfg.URI = uri
	}
	if flags.Changed("user") {
		cfg.Username = username
	}
	if flags.Changed("no-versioning") {
		enabled := !nover
		cfg.FS.Versioning = &enabled
	}
	if flags.Changed("auto-init") {
		cfg.FS.AutoInit = autoInit
	}

	if cfg.Adapter == "" {
		cfg.Adapter = notesync.AdapterFS
	}
	return cfg, nil
}

// openClient builds a client from the merged configuration, starts it and
// loads the current notes.
func openClient(cmd *cobra.Command, extra ...notesync.Option) (*notesync.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return startClient(cmd, cfg, extra...)
}

func startClient(cmd *cobra.Command, cfg notesync.Config, extra ...notesync.Option) (*notesync.Client, error) {
	if cfg.URI == "" && cfg.Adapter == notesync.AdapterFS {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if root, err := notesync.FindVaultRoot(cwd); err == nil {
			cfg.URI = root
		} else {
			cfg.URI = cwd
		}
	}

	opts := append(cfg.Options(), notesync.WithLogger(slog.Default()))
	opts = append(opts, extra...)
	c, err := notesync.New(cfg.URI, opts...)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.Refresh(ctx); err != nil {
		slog.Warn("could not load notes", "error", err)
	}
	return c, nil
}
