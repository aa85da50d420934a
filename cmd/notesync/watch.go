package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	source "github.com/aretw0/notesync/pkg/adapters/lifecycle"
	"github.com/aretw0/notesync/pkg/core"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the notes every time they change",
	Long: `Watch keeps the client running, follows the backend change stream and
prints the list of notes after every change. Stop it with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return fmt.Errorf("failed to open notes: %w", err)
		}
		defer c.Close()

		ctx := cmd.Context()
		src := source.NewSource(c.Changes())
		if err := src.Start(ctx); err != nil {
			return fmt.Errorf("failed to follow changes: %w", err)
		}
		changes := src.Events()
		snapshots := c.Watch(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-changes:
				if !ok {
					return nil
				}
				if ch, ok := ev.(core.Change); ok {
					fmt.Printf("[%s] %s\n", time.Unix(ch.Timestamp, 0).Format(time.TimeOnly), ch)
				}
			case notes, ok := <-snapshots:
				if !ok {
					return nil
				}
				printSnapshot(notes)
			}
		}
	},
}

func printSnapshot(notes []core.Note) {
	fmt.Printf("--- %d note(s) ---\n", len(notes))
	for _, n := range notes {
		fmt.Printf("%s  %s\n", n.ID, firstLine(n.Content))
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
