// Package trace segments a stream of tool-call events into classified,
// scored bundles and ages them through four compression strategies. The
// detector is independent of the frame stack: it consumes tool calls from
// any source, typically the frame event feed.
package trace

import (
	"strings"
	"time"
)

// ToolCall is one tool invocation in the stream.
type ToolCall struct {
	Name      string    `json:"name"`
	Files     []string  `json:"files,omitempty"`
	Error     string    `json:"error,omitempty"` // non-empty means the call failed
	Permanent bool      `json:"permanent,omitempty"`
	Refs      int       `json:"refs,omitempty"` // reference count for scoring
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Errored reports whether the call failed.
func (c ToolCall) Errored() bool {
	return c.Error != ""
}

// Factors carries the contextual inputs to a tool score.
type Factors struct {
	FilesAffected  int
	IsPermanent    bool
	ReferenceCount int
}

// ToolScorer maps a tool name plus contextual factors to a standalone
// importance score in [0,1]. Supplied by configuration; DefaultScorer is
// used when none is given.
type ToolScorer func(tool string, f Factors) float64

// baseScores are the standalone importance of each known tool name.
var baseScores = map[string]float64{
	"write":  0.75,
	"edit":   0.70,
	"bash":   0.50,
	"test":   0.60,
	"read":   0.25,
	"grep":   0.25,
	"search": 0.30,
	"glob":   0.20,
}

// DefaultScorer scores a tool call from its name and factors. Unknown
// tools get a neutral 0.4 base.
func DefaultScorer(tool string, f Factors) float64 {
	score, ok := baseScores[strings.ToLower(tool)]
	if !ok {
		score = 0.4
	}
	if f.IsPermanent {
		score += 0.10
	}
	if f.FilesAffected > 2 {
		score += 0.05
	}
	if f.ReferenceCount > 0 {
		score += 0.05
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// factorsOf derives scoring factors from a call.
func factorsOf(c ToolCall) Factors {
	return Factors{
		FilesAffected:  len(c.Files),
		IsPermanent:    c.Permanent,
		ReferenceCount: c.Refs,
	}
}

// chain renders the arrow-joined tool name sequence, e.g. "read->edit->test".
func chain(tools []ToolCall) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = strings.ToLower(t.Name)
	}
	return strings.Join(names, "->")
}
