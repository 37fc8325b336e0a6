package main

import (
	"fmt"
	"strings"

	"strata/pkg/protocol"

	"github.com/spf13/cobra"
)

// newAnchorCmd creates the "strata anchor" subcommand.
func newAnchorCmd() *cobra.Command {
	var frameID, metaJSON string
	var priority int

	cmd := &cobra.Command{
		Use:   "anchor <type> <text>",
		Short: "Attach an anchor to a frame",
		Long:  "Attach a typed annotation (DECISION, CONSTRAINT, RISK, FACT, TODO)\nto the given frame (default: top of the stack).",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			metadata, err := parseJSONFlag("meta", metaJSON)
			if err != nil {
				return err
			}

			typ := protocol.AnchorType(strings.ToUpper(args[0]))
			text := strings.Join(args[1:], " ")
			a, err := e.mgr.AddAnchor(ctx, typ, text, priority, metadata, frameID)
			if err != nil {
				return fmt.Errorf("anchor: %w", err)
			}

			human := fmt.Sprintf("Anchored [%s] on frame %s: %s\n", a.Type, a.FrameID, a.Text)
			return emit(cmd, human, map[string]any{
				"anchor_id": a.AnchorID,
				"frame_id":  a.FrameID,
				"type":      a.Type,
			})
		},
	}

	cmd.Flags().StringVar(&frameID, "frame", "", "target frame id (default: stack top)")
	cmd.Flags().IntVar(&priority, "priority", 0, "anchor priority (higher first)")
	cmd.Flags().StringVar(&metaJSON, "meta", "", "anchor metadata as a JSON object")
	return cmd
}
