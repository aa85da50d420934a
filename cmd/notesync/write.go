package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <content>...",
	Short: "Create a note",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return fmt.Errorf("failed to open notes: %w", err)
		}
		defer c.Close()

		res := c.CreateNote(cmd.Context(), strings.Join(args, " "))
		switch {
		case !res.OK():
			return errors.New(res.Reason())
		case res.Skipped:
			fmt.Println("Nothing to save: the note is empty.")
		default:
			fmt.Printf("Note created: %s\n", res.Value.ID)
		}
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id> <content>...",
	Short: "Replace the content of a note",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return fmt.Errorf("failed to open notes: %w", err)
		}
		defer c.Close()

		res := c.UpdateNote(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if !res.OK() {
			return errors.New(res.Reason())
		}
		fmt.Printf("Note updated: %s (version %d)\n", res.Value.ID, res.Value.Version)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return fmt.Errorf("failed to open notes: %w", err)
		}
		defer c.Close()

		res := c.DeleteNote(cmd.Context(), args[0])
		if !res.OK() {
			return errors.New(res.Reason())
		}
		fmt.Printf("Note deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd, editCmd, deleteCmd)
}
