package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// newEventCmd creates the "strata event" subcommand.
func newEventCmd() *cobra.Command {
	var frameID, payloadJSON string

	cmd := &cobra.Command{
		Use:   "event <type>",
		Short: "Append an event to a frame",
		Long:  "Append an ordered event (tool_call, artifact, ...) to the given frame\n(default: top of the stack).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			// "-" reads the payload from stdin, for hook pipelines.
			if payloadJSON == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				payloadJSON = string(data)
			}
			payload, err := parseJSONFlag("payload", payloadJSON)
			if err != nil {
				return err
			}

			ev, err := e.mgr.AddEvent(ctx, args[0], payload, frameID)
			if err != nil {
				return fmt.Errorf("event: %w", err)
			}

			human := fmt.Sprintf("Recorded %s event #%d on frame %s\n", ev.EventType, ev.Seq, ev.FrameID)
			return emit(cmd, human, map[string]any{
				"event_id": ev.EventID,
				"frame_id": ev.FrameID,
				"seq":      ev.Seq,
			})
		},
	}

	cmd.Flags().StringVar(&frameID, "frame", "", "target frame id (default: stack top)")
	cmd.Flags().StringVar(&payloadJSON, "payload", "", "event payload as a JSON object, or - for stdin")
	return cmd
}
