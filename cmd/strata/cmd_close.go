package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCloseCmd creates the "strata close" subcommand.
func newCloseCmd() *cobra.Command {
	var outputsJSON string

	cmd := &cobra.Command{
		Use:   "close [frame-id]",
		Short: "Close a frame",
		Long:  "Close the given frame (default: top of the stack), generating its\ndigest and cascading to any still-active children.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			frameID := ""
			if len(args) > 0 {
				frameID = args[0]
			}
			outputs, err := parseJSONFlag("outputs", outputsJSON)
			if err != nil {
				return err
			}

			// Resolve the target before closing so the result names it even
			// when it defaulted to the stack top.
			if frameID == "" {
				if s := e.mgr.Stack(); len(s) > 0 {
					frameID = s[len(s)-1]
				}
			}

			if err := e.mgr.CloseFrame(ctx, frameID, outputs); err != nil {
				return fmt.Errorf("close: %w", err)
			}

			f, err := e.store.GetFrame(ctx, frameID)
			if err != nil {
				return fmt.Errorf("close: %w", err)
			}

			human := fmt.Sprintf("Closed frame %s: %s\n%s", f.FrameID, f.Name, f.DigestText)
			return emit(cmd, human, map[string]any{
				"frame_id":    f.FrameID,
				"digest_text": f.DigestText,
				"digest":      f.DigestJSON,
			})
		},
	}

	cmd.Flags().StringVar(&outputsJSON, "outputs", "", "frame outputs as a JSON object")
	return cmd
}
