package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"strata/pkg/protocol"
	"strata/pkg/store"
	"strata/pkg/trace"
)

// newStatusCmd creates the "strata status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active stack, traces, and pending handoffs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			var frames []protocol.Frame
			for _, id := range e.mgr.Stack() {
				f, err := e.store.GetFrame(ctx, id)
				if err != nil {
					return fmt.Errorf("status: %w", err)
				}
				frames = append(frames, *f)
			}

			closed, err := e.store.ListFrames(ctx, store.FrameQuery{RunID: e.runID})
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			closedCount := 0
			for i := range closed {
				if closed[i].Closed() {
					closedCount++
				}
			}

			traces, err := trace.NewSQLiteTraceStore(e.db).AllTraces(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			compressed := 0
			for _, t := range traces {
				if t.Compressed != nil {
					compressed++
				}
			}

			pending, err := e.store.ListHandoffs(ctx, protocol.HandoffPending)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			human := renderStatus(e, frames, closedCount, len(traces), compressed, pending)
			return emit(cmd, human, map[string]any{
				"run_id":            e.runID,
				"project_id":        e.projectID,
				"branch":            e.branch,
				"stack":             frames,
				"closed_frames":     closedCount,
				"traces":            len(traces),
				"compressed_traces": compressed,
				"pending_handoffs":  len(pending),
			})
		},
	}
}

func renderStatus(e *engine, stack []protocol.Frame, closedCount, traceCount, compressed int, pending []protocol.HandoffRequest) string {
	st := newStatusStyles(DefaultTheme())
	var b strings.Builder

	b.WriteString(st.header.Render(fmt.Sprintf("strata  project=%s branch=%s run=%s", e.projectID, e.branch, e.runID)))
	b.WriteString("\n\n")

	b.WriteString(st.header.Render("Active stack"))
	b.WriteString("\n")
	if len(stack) == 0 {
		b.WriteString(st.muted.Render("  (empty)"))
		b.WriteString("\n")
	}
	for _, f := range stack {
		indent := strings.Repeat("  ", f.Depth+1)
		b.WriteString(indent)
		b.WriteString(st.frame.Render(fmt.Sprintf("%s %s", f.Type, f.Name)))
		b.WriteString(st.muted.Render("  " + f.FrameID))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(st.muted.Render(fmt.Sprintf("Closed frames: %d   Traces: %d (%d compressed)", closedCount, traceCount, compressed)))
	b.WriteString("\n")

	if len(pending) > 0 {
		b.WriteString(st.warn.Render(fmt.Sprintf("Pending handoffs: %d", len(pending))))
		b.WriteString("\n")
		for _, h := range pending {
			b.WriteString(st.muted.Render(fmt.Sprintf("  %s from %s (%d frames)", h.RequestID, h.SourceStackID, len(h.FrameIDs))))
			b.WriteString("\n")
		}
	}
	return b.String()
}
