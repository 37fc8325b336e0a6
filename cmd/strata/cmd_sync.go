package main

import (
	"fmt"

	"strata/pkg/sharedctx"

	"github.com/spf13/cobra"
)

// newSyncCmd creates the "strata sync" subcommand: a one-shot push of the
// run's closed frames into shared context.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push closed frames to shared context now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			frames, err := e.closedFrames(ctx)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			n, err := e.layer.Add(ctx,
				sharedctx.Query{ProjectID: e.projectID, Branch: e.branch},
				frames,
				sharedctx.AddOpts{
					SessionID: e.sessionID,
					MinScore:  e.minScore,
					Tags:      e.tags,
				},
			)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			human := fmt.Sprintf("Synced %d of %d closed frames to shared context.\n", n, len(frames))
			return emit(cmd, human, map[string]any{"pushed": n, "closed": len(frames)})
		},
	}
}
