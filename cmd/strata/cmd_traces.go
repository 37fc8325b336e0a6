package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"strata/pkg/protocol"
	"strata/pkg/store"
	"strata/pkg/trace"
)

// newTracesCmd creates the "strata traces" subcommand: bundle the run's
// recorded tool_call events into traces and optionally age them.
func newTracesCmd() *cobra.Command {
	var compress bool

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Bundle recorded tool calls into traces",
		Long:  "Segment the run's tool_call events into classified, scored traces.\nAlready-traced events are skipped; --compress runs the aging sweep.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			st := trace.NewSQLiteTraceStore(e.db)
			existing, err := st.AllTraces(ctx)
			if err != nil {
				return fmt.Errorf("traces: %w", err)
			}
			var lastEnd time.Time
			for _, t := range existing {
				if t.Metadata.End.After(lastEnd) {
					lastEnd = t.Metadata.End
				}
			}

			calls, err := collectToolCalls(ctx, e, lastEnd)
			if err != nil {
				return fmt.Errorf("traces: %w", err)
			}

			d := trace.NewDetector(trace.Config{
				GapThreshold:        e.cfg.Trace.GapThreshold(),
				MaxTraceSize:        e.cfg.Trace.MaxTraceSize,
				DirectoryBoundaries: e.cfg.Trace.DirectoryBoundaries,
				CausalChains:        e.cfg.Trace.CausalChains,
				Store:               st,
				Logger:              e.log,
			})
			for _, c := range calls {
				d.Add(ctx, c)
			}
			d.Flush(ctx)
			detected := d.Traces()

			compressed := 0
			if compress {
				all, err := st.AllTraces(ctx)
				if err != nil {
					return fmt.Errorf("traces: %w", err)
				}
				sweep := trace.NewDetector(trace.Config{Store: st, Logger: e.log})
				for _, t := range all {
					sweep.Adopt(t)
				}
				compressed = sweep.CompressOldTraces(ctx, time.Now().UTC())
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Detected %d new trace(s) from %d tool call(s)\n", len(detected), len(calls))
			for _, t := range detected {
				fmt.Fprintf(&b, "- [%.2f] %s\n", t.Score, t.Summary)
			}
			if compress {
				fmt.Fprintf(&b, "Compressed %d trace(s)\n", compressed)
			}
			return emit(cmd, b.String(), map[string]any{
				"detected":   len(detected),
				"tool_calls": len(calls),
				"compressed": compressed,
				"traces":     detected,
			})
		},
	}

	cmd.Flags().BoolVar(&compress, "compress", false, "run the aging sweep after detection")
	return cmd
}

// collectToolCalls flattens the run's tool_call events recorded after the
// cutoff into chronological detector input.
func collectToolCalls(ctx context.Context, e *engine, after time.Time) ([]trace.ToolCall, error) {
	frames, err := e.store.ListFrames(ctx, store.FrameQuery{RunID: e.runID})
	if err != nil {
		return nil, err
	}

	var calls []trace.ToolCall
	for i := range frames {
		events, err := e.store.ListEvents(ctx, frames[i].FrameID, 0)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if ev.EventType != protocol.EventToolCall || !ev.TS.After(after) {
				continue
			}
			calls = append(calls, toolCallFromEvent(ev))
		}
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].Start.Before(calls[j].Start) })
	return calls, nil
}

// toolCallFromEvent maps a tool_call event payload to the detector input.
func toolCallFromEvent(ev protocol.Event) trace.ToolCall {
	c := trace.ToolCall{Start: ev.TS, End: ev.TS}
	if name, ok := ev.Payload["tool"].(string); ok {
		c.Name = name
	}
	if errText, ok := ev.Payload["error"].(string); ok {
		c.Error = errText
	}
	if file, ok := ev.Payload["file"].(string); ok && file != "" {
		c.Files = append(c.Files, file)
	}
	if files, ok := ev.Payload["files"].([]any); ok {
		for _, f := range files {
			if s, ok := f.(string); ok && s != "" {
				c.Files = append(c.Files, s)
			}
		}
	}
	return c
}
