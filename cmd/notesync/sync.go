package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize with the backend",
	Long: `Start a synchronization session with the backend. For versioned fs vaults
this pulls and pushes the git remote; for servers it checks the connection.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return fmt.Errorf("failed to open notes: %w", err)
		}
		defer c.Close()

		fmt.Println("Syncing...")
		if err := c.Sync(cmd.Context()); err != nil {
			fmt.Println("Tip: Ensure the backend is reachable. For git vaults, check 'git remote -v' and resolve merge conflicts manually.")
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Printf("Sync completed successfully (%d notes).\n", len(c.ListNotes()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
