package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newContextCmd creates the "strata context" subcommand.
func newContextCmd() *cobra.Command {
	var maxEvents int

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show the hot stack context",
		Long:  "Assemble the live view of every open frame on the active stack:\ngoal, constraints, anchors, recent events, and active artifacts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			frames, err := e.mgr.HotContext(ctx, maxEvents)
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}

			var b strings.Builder
			if len(frames) == 0 {
				b.WriteString("Stack is empty.\n")
			}
			for _, fc := range frames {
				indent := strings.Repeat("  ", fc.Depth)
				fmt.Fprintf(&b, "%s[%s] %s\n", indent, fc.Type, fc.Goal)
				for _, c := range fc.Constraints {
					fmt.Fprintf(&b, "%s  constraint: %s\n", indent, c)
				}
				for _, a := range fc.Anchors {
					fmt.Fprintf(&b, "%s  [%s] %s\n", indent, a.Type, a.Text)
				}
				for _, ref := range fc.ActiveArtifacts {
					fmt.Fprintf(&b, "%s  artifact: %s\n", indent, ref)
				}
			}
			return emit(cmd, b.String(), frames)
		},
	}

	cmd.Flags().IntVar(&maxEvents, "max-events", 10, "recent events per frame")
	return cmd
}
