package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newDiscoverCmd creates the "strata discover" subcommand.
func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Bootstrap context for a new session",
		Long:  "Combine the top recent patterns, the last decisions, and the highest\nscoring frames from shared context into a session bootstrap bundle.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			d, err := e.layer.AutoDiscover(ctx, e.projectID, e.branch)
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}

			var b strings.Builder
			if len(d.TopPatterns) > 0 {
				b.WriteString("Recent patterns:\n")
				for _, p := range d.TopPatterns {
					fmt.Fprintf(&b, "- [%s x%d] %s\n", p.Type, p.Frequency, p.Pattern)
				}
			}
			if len(d.LastDecisions) > 0 {
				b.WriteString("Recent decisions:\n")
				for _, dec := range d.LastDecisions {
					fmt.Fprintf(&b, "- %s\n", dec.Text)
				}
			}
			if len(d.TopFrames) > 0 {
				b.WriteString("Key frames:\n")
				b.WriteString(formatRecallResults(d.TopFrames))
			}
			if b.Len() == 0 {
				b.WriteString("No shared context yet.\n")
			}
			return emit(cmd, b.String(), d)
		},
	}
}
