package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/notesync/pkg/engine"
)

var (
	listJSON   bool
	listRecent bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live notes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return fmt.Errorf("failed to open notes: %w", err)
		}
		defer c.Close()

		var opts []engine.ListOption
		if listRecent {
			opts = append(opts, engine.WithOrder(engine.ByUpdatedDesc))
		}
		notes := c.ListNotes(opts...)

		if listJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(notes); err != nil {
				return fmt.Errorf("failed to encode JSON: %w", err)
			}
			return nil
		}

		for _, n := range notes {
			fmt.Printf("%s  %s\n", n.ID, firstLine(n.Content))
		}
		return nil
	},
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().BoolVar(&listRecent, "recent", false, "Most recently updated first")
}
