package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newOpenCmd creates the "strata open" subcommand.
func newOpenCmd() *cobra.Command {
	var parent, inputsJSON string

	cmd := &cobra.Command{
		Use:   "open <type> <name>",
		Short: "Open a new frame on the active stack",
		Long:  "Create an active frame as a child of the current stack top (or an\nexplicit --parent) and push it onto the stack.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			inputs, err := parseJSONFlag("inputs", inputsJSON)
			if err != nil {
				return err
			}

			frameID, err := e.mgr.CreateFrame(ctx, args[0], args[1], inputs, parent)
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}

			human := fmt.Sprintf("Opened %s frame %s: %s\n", args[0], frameID, args[1])
			return emit(cmd, human, map[string]any{"frame_id": frameID})
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "explicit parent frame id")
	cmd.Flags().StringVar(&inputsJSON, "inputs", "", "frame inputs as a JSON object")
	return cmd
}
