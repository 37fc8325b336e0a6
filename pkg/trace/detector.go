package trace

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata summarizes a finalized trace.
type Metadata struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Files       []string  `json:"files,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
	Decisions   []string  `json:"decisions,omitempty"`
	CausalChain bool      `json:"causal_chain,omitempty"` // an error was followed by a fix attempt
}

// Trace is a bundle of related tool calls. Once finalized it is frozen;
// the only later mutation is Compressed being populated by the aging sweep
// (which may also prune or drop Tools).
type Trace struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Tools      []ToolCall  `json:"tools"`
	Score      float64     `json:"score"`
	Summary    string      `json:"summary"`
	Metadata   Metadata    `json:"metadata"`
	Compressed *Compressed `json:"compressed,omitempty"`
}

// Config tunes the detector. Zero values take the documented defaults.
type Config struct {
	GapThreshold        time.Duration // boundary on time gap between calls (default 30s)
	MaxTraceSize        int           // finalize at this many tools (default 50)
	DirectoryBoundaries bool          // finalize when consecutive calls share no parent directory
	CausalChains        bool          // finalize when an error is not followed by a fix attempt
	Scorer              ToolScorer    // per-tool importance (default DefaultScorer)
	Store               TraceStore    // optional persistence hook for finalized traces
	Logger              *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.GapThreshold == 0 {
		c.GapThreshold = 30 * time.Second
	}
	if c.MaxTraceSize == 0 {
		c.MaxTraceSize = 50
	}
	if c.Scorer == nil {
		c.Scorer = DefaultScorer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Detector accumulates tool calls into the current trace and finalizes it
// when a boundary is crossed. Single-writer, like the stack manager.
type Detector struct {
	cfg       Config
	current   []ToolCall
	decisions []string
	traces    []*Trace
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Traces returns the finalized traces in finalization order.
func (d *Detector) Traces() []*Trace {
	return d.traces
}

// Adopt registers an already-finalized trace, typically reloaded from a
// store, so aging sweeps cover it. The trace is not re-scored.
func (d *Detector) Adopt(t *Trace) {
	if t != nil {
		d.traces = append(d.traces, t)
	}
}

// Pending returns the number of tool calls in the accumulating trace.
func (d *Detector) Pending() int {
	return len(d.current)
}

// RecordDecision attaches a decision to the accumulating trace. Each
// recorded decision nudges the trace score up.
func (d *Detector) RecordDecision(text string) {
	if text != "" {
		d.decisions = append(d.decisions, text)
	}
}

// Add feeds the next tool call into the detector. A boundary relative to
// the previous call finalizes the current trace first; the new call then
// starts (or extends) the next one. Hitting MaxTraceSize finalizes
// immediately.
func (d *Detector) Add(ctx context.Context, call ToolCall) {
	if len(d.current) > 0 && d.isBoundary(d.current[len(d.current)-1], call) {
		d.finalize(ctx)
	}
	d.current = append(d.current, call)
	if len(d.current) >= d.cfg.MaxTraceSize {
		d.finalize(ctx)
	}
}

// Flush finalizes the accumulating trace, if any, and returns it.
func (d *Detector) Flush(ctx context.Context) *Trace {
	if len(d.current) == 0 {
		return nil
	}
	return d.finalize(ctx)
}

// isBoundary decides whether next starts a new trace relative to last.
func (d *Detector) isBoundary(last, next ToolCall) bool {
	if gap := next.Start.Sub(last.End); gap > d.cfg.GapThreshold {
		return true
	}
	if d.cfg.DirectoryBoundaries && !sharesParentDir(last.Files, next.Files) {
		return true
	}
	if d.cfg.CausalChains && last.Errored() && !isFixAttempt(next) {
		return true
	}
	return false
}

// isFixAttempt reports whether a call immediately after an error looks
// like a fix: an edit or write, or a test/bash run as validation.
func isFixAttempt(c ToolCall) bool {
	switch strings.ToLower(c.Name) {
	case "edit", "write", "test", "bash":
		return true
	}
	return false
}

// sharesParentDir reports whether any file of a shares a parent directory
// with any file of b. Calls without files never force a boundary.
func sharesParentDir(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	dirs := make(map[string]bool, len(a))
	for _, f := range a {
		dirs[filepath.Dir(f)] = true
	}
	for _, f := range b {
		if dirs[filepath.Dir(f)] {
			return true
		}
	}
	return false
}

// finalize freezes the current trace: classify, summarize, score, record
// metadata, append to the trace list, and persist when a store is wired.
func (d *Detector) finalize(ctx context.Context) *Trace {
	if len(d.current) == 0 {
		return nil
	}
	tools := d.current
	d.current = nil
	decisions := d.decisions
	d.decisions = nil

	meta := buildMetadata(tools, decisions)
	traceType := classify(tools)
	t := &Trace{
		ID:       uuid.New().String(),
		Type:     traceType,
		Tools:    tools,
		Summary:  summarize(traceType, tools, meta),
		Metadata: meta,
	}
	t.Score = score(d.cfg.Scorer, tools, meta)

	d.traces = append(d.traces, t)
	if d.cfg.Store != nil {
		if err := d.cfg.Store.SaveTrace(ctx, t); err != nil {
			d.cfg.Logger.Warn("trace persist failed", "trace_id", t.ID, "error", err)
		}
	}
	return t
}

// buildMetadata collects timing, files, errors, decisions, and the causal
// error-to-fix flag for a finished tool sequence.
func buildMetadata(tools []ToolCall, decisions []string) Metadata {
	meta := Metadata{
		Start:     tools[0].Start,
		End:       tools[len(tools)-1].End,
		Decisions: decisions,
	}

	files := make(map[string]bool)
	for i, t := range tools {
		for _, f := range t.Files {
			files[f] = true
		}
		if t.Errored() {
			meta.Errors = append(meta.Errors, t.Error)
			if i+1 < len(tools) && isFixAttempt(tools[i+1]) {
				meta.CausalChain = true
			}
		}
	}
	for f := range files {
		meta.Files = append(meta.Files, f)
	}
	sort.Strings(meta.Files)
	return meta
}
