package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the internal state of the client as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return fmt.Errorf("failed to open notes: %w", err)
		}
		defer c.Close()

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(c.State()); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
}
