package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"strata/pkg/bridge"

	"github.com/spf13/cobra"
)

// newWatchCmd creates the "strata watch" subcommand: a long-running loop
// that syncs closed frames on the configured interval and follows shared
// context files rewritten by other processes.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the periodic sync loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			coord := bridge.New(bridge.Config{
				Layer:     e.layer,
				ProjectID: e.projectID,
				Branch:    e.branch,
				SessionID: e.sessionID,
				Interval:  e.cfg.Sync.Interval(),
				MinScore:  e.minScore,
				Tags:      e.tags,
				Logger:    e.log,
			})
			e.mgr.Notify(coord)

			// Seed with frames already closed before the watcher started.
			frames, err := e.closedFrames(ctx)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			for _, f := range frames {
				coord.FrameClosed(f)
			}

			stopWatch, err := e.layer.Watch(e.projectID)
			if err == nil {
				defer stopWatch()
			}

			coord.Start(ctx)
			defer coord.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Watching project %s (sync every %s). Ctrl-C to stop.\n",
				e.projectID, e.cfg.Sync.Interval())
			<-ctx.Done()

			return coord.SyncNow(cmd.Context())
		},
	}
}
