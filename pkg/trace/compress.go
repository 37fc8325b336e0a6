package trace

import (
	"context"
	"math"
	"strings"
	"time"
)

// Strategy names the four compressed representations.
type Strategy string

// Compression strategies, lightest to heaviest.
const (
	StrategyPattern     Strategy = "pattern"      // keep the tool chain and full summary
	StrategySelective   Strategy = "selective"    // keep only high-scoring tools
	StrategySummaryOnly Strategy = "summary_only" // truncated summary, tools discarded
	StrategyMaximal     Strategy = "maximal"      // type abbreviation and counts only
)

// Compressed is the aged representation of a trace. Which fields are set
// depends on the strategy.
type Compressed struct {
	Strategy        Strategy `json:"strategy"`
	Pattern         string   `json:"pattern,omitempty"` // pattern and selective
	Summary         string   `json:"summary,omitempty"`
	TypeAbbrev      string   `json:"type_abbrev,omitempty"` // maximal
	ToolCount       int      `json:"tool_count,omitempty"`
	Score           float64  `json:"score,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
}

// strategyFor selects the compression strategy from a trace's age and
// score. Recent high-value traces keep the most detail.
func strategyFor(age time.Duration, traceScore float64) Strategy {
	switch {
	case age < 24*time.Hour && traceScore > 0.7:
		return StrategyPattern
	case age < 24*time.Hour:
		return StrategySelective
	case age < 168*time.Hour && traceScore > 0.5:
		return StrategySelective
	case age < 720*time.Hour:
		return StrategySummaryOnly
	default:
		return StrategyMaximal
	}
}

// Compress applies a strategy to a trace. Maximal and summary-only discard
// the full tools array; this is intentional, one-way storage reduction.
// Selective prunes tools to those individually scoring at least 0.5.
// Applying the same strategy twice is a no-op.
func Compress(t *Trace, strategy Strategy, scorer ToolScorer) {
	if t.Compressed != nil && t.Compressed.Strategy == strategy {
		return
	}
	if scorer == nil {
		scorer = DefaultScorer
	}

	switch strategy {
	case StrategyPattern:
		t.Compressed = &Compressed{
			Strategy: StrategyPattern,
			Pattern:  chain(t.Tools),
			Summary:  t.Summary,
		}
	case StrategySelective:
		var kept []ToolCall
		for _, tool := range t.Tools {
			if scorer(tool.Name, factorsOf(tool)) >= 0.5 {
				kept = append(kept, tool)
			}
		}
		t.Tools = kept
		t.Compressed = &Compressed{
			Strategy: StrategySelective,
			Pattern:  chain(kept),
			Summary:  t.Summary,
		}
	case StrategySummaryOnly:
		count := countTools(t)
		t.Tools = nil
		t.Compressed = &Compressed{
			Strategy:  StrategySummaryOnly,
			Summary:   truncate(t.Summary, 100),
			ToolCount: count,
		}
	case StrategyMaximal:
		count := countTools(t)
		t.Tools = nil
		t.Compressed = &Compressed{
			Strategy:        StrategyMaximal,
			TypeAbbrev:      typeAbbrev(t.Type),
			ToolCount:       count,
			Score:           math.Round(t.Score*10) / 10,
			DurationSeconds: math.Round(t.Metadata.End.Sub(t.Metadata.Start).Seconds()),
		}
	}
}

// countTools preserves the tool count across a prior compression that
// already dropped the array.
func countTools(t *Trace) int {
	if len(t.Tools) > 0 {
		return len(t.Tools)
	}
	if t.Compressed != nil && t.Compressed.ToolCount > 0 {
		return t.Compressed.ToolCount
	}
	return 0
}

// typeAbbrev reduces a trace type to two letters: initials of the first
// two hyphenated words, or the first two characters.
func typeAbbrev(traceType string) string {
	parts := strings.SplitN(traceType, "-", 3)
	if len(parts) >= 2 && parts[0] != "" && parts[1] != "" {
		return parts[0][:1] + parts[1][:1]
	}
	if len(traceType) >= 2 {
		return traceType[:2]
	}
	return traceType
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// CompressOldTraces runs the aging sweep over all finalized traces: each
// trace gets the strategy for its current age bucket. The sweep is
// synchronous and atomic per trace; re-running it in the same bucket does
// not shrink a trace further. Compression updates are pushed to the store
// when one is wired.
func (d *Detector) CompressOldTraces(ctx context.Context, now time.Time) int {
	changed := 0
	for _, t := range d.traces {
		strategy := strategyFor(now.Sub(t.Metadata.End), t.Score)
		if t.Compressed != nil && t.Compressed.Strategy == strategy {
			continue
		}
		Compress(t, strategy, d.cfg.Scorer)
		changed++
		if d.cfg.Store != nil {
			if err := d.cfg.Store.UpdateCompression(ctx, t); err != nil {
				d.cfg.Logger.Warn("compression persist failed", "trace_id", t.ID, "error", err)
			}
		}
	}
	return changed
}
