package main

import (
	"fmt"
	"strings"

	"strata/pkg/sharedctx"

	"github.com/spf13/cobra"
)

// formatRecallResults formats shared context query results for CLI output.
func formatRecallResults(results []sharedctx.QueryResult) string {
	if len(results) == 0 {
		return "No shared context found.\n"
	}

	var b strings.Builder
	for i, r := range results {
		kf := r.KeyFrame
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, kf.Type, firstLine(kf.Summary))
		fmt.Fprintf(&b, "   score: %.2f | rank: %.4f | session: %s | closed: %s\n",
			kf.Score, r.Rank, r.SessionID, kf.ClosedAt.Format("2006-01-02"))
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// newRecallCmd creates the "strata recall" subcommand.
func newRecallCmd() *cobra.Command {
	var tags []string
	var frameType, session string
	var minScore float64
	var limit int

	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Query the cross-session shared context",
		Long:  "Rank the project's distilled key frames by importance and recency,\nwith optional tag, type, and score filters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			results, err := e.layer.QueryContext(ctx, sharedctx.ContextQuery{
				ProjectID: e.projectID,
				Branch:    e.branch,
				SessionID: session,
				Tags:      tags,
				Type:      frameType,
				MinScore:  minScore,
				Limit:     limit,
			})
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}

			return emit(cmd, formatRecallResults(results), results)
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tags", nil, "filter by tags (any match)")
	cmd.Flags().StringVar(&frameType, "type", "", "filter by frame type")
	cmd.Flags().StringVar(&session, "session", "", "restrict to one session")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum key frame score")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}
