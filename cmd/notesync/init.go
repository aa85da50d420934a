package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/notesync"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a notes vault",
	Long: `Initialize a new fs vault in the configured directory (default: the current
one): creates the layout and, unless --no-versioning, runs 'git init'.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fatal("Invalid configuration", err)
		}
		if cfg.Adapter != notesync.AdapterFS {
			fatal("Cannot initialize vault", fmt.Errorf("init only applies to the fs adapter, got %q", cfg.Adapter))
		}

		if cfg.URI == "" {
			cwd, err := os.Getwd()
			if err != nil {
				fatal("Failed to get CWD", err)
			}
			cfg.URI = cwd
		}

		c, err := startClient(cmd, cfg, notesync.WithAutoInit(true))
		if err != nil {
			fatal("Failed to initialize vault", err)
		}
		defer c.Close()

		fmt.Println("Initialized empty notes vault in", cfg.URI)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
