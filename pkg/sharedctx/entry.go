// Package sharedctx implements the cross-session shared context layer: a
// per (project, branch) disk-backed document of distilled session
// summaries, recurring patterns, and decisions, held in a bounded TTL
// cache and queried with deterministic heuristic ranking.
package sharedctx

import (
	"time"

	"strata/pkg/protocol"
)

// Caps on the bounded collections inside an Entry.
const (
	maxKeyFramesPerSession = 50
	maxGlobalPatterns      = 100
	maxDecisionLog         = 100
	maxByScore             = 1000
	maxRecentlyAccessed    = 100
)

// KeyFrame is the distilled summary of one important closed frame.
type KeyFrame struct {
	FrameID  string    `json:"frameId"`
	Type     string    `json:"type"`
	Score    float64   `json:"score"`
	Tags     []string  `json:"tags,omitempty"`
	Summary  string    `json:"summary,omitempty"`
	ClosedAt time.Time `json:"closedAt"`
}

// SessionSummary holds the key frames contributed by one session.
type SessionSummary struct {
	SessionID string     `json:"sessionId"`
	UpdatedAt time.Time  `json:"updatedAt"`
	KeyFrames []KeyFrame `json:"keyFrames"`
}

// Pattern is a recurring observation ranked by frequency.
type Pattern struct {
	Pattern    string    `json:"pattern"`
	Type       string    `json:"type"` // error_resolution, decision
	Frequency  int       `json:"frequency"`
	LastSeen   time.Time `json:"lastSeen"`
	Resolution string    `json:"resolution,omitempty"`
}

// Decision is one entry of the rolling decision log.
type Decision struct {
	Text    string    `json:"text"`
	FrameID string    `json:"frameId,omitempty"`
	At      time.Time `json:"at"`
}

// ScoredRef pairs a frame id with the score it was indexed under, so the
// byScore list stays sortable across updates.
type ScoredRef struct {
	FrameID string  `json:"frameId"`
	Score   float64 `json:"score"`
}

// ReferenceIndex provides fast lookups into the key frames. The map fields
// serialize as plain key-to-array objects on disk and are reconstructed
// into maps on load.
type ReferenceIndex struct {
	ByTag            map[string][]string `json:"byTag"`
	ByType           map[string][]string `json:"byType"`
	ByScore          []ScoredRef         `json:"byScore"`          // sorted descending, cap 1000
	RecentlyAccessed []string            `json:"recentlyAccessed"` // ring, cap 100
}

// Entry is the per (projectId, branch) shared context document.
type Entry struct {
	ProjectID      string           `json:"projectId"`
	Branch         string           `json:"branch"`
	LastUpdated    time.Time        `json:"lastUpdated"`
	Sessions       []SessionSummary `json:"sessions"`
	GlobalPatterns []Pattern        `json:"globalPatterns"`
	DecisionLog    []Decision       `json:"decisionLog"`
	ReferenceIndex ReferenceIndex   `json:"referenceIndex"`
}

// newEntry creates an empty entry with initialized index maps.
func newEntry(projectID, branch string) *Entry {
	return &Entry{
		ProjectID: projectID,
		Branch:    branch,
		ReferenceIndex: ReferenceIndex{
			ByTag:  make(map[string][]string),
			ByType: make(map[string][]string),
		},
	}
}

// normalize repairs an entry loaded from disk: nil maps become empty maps
// so lookups and inserts never panic.
func (e *Entry) normalize() {
	if e.ReferenceIndex.ByTag == nil {
		e.ReferenceIndex.ByTag = make(map[string][]string)
	}
	if e.ReferenceIndex.ByType == nil {
		e.ReferenceIndex.ByType = make(map[string][]string)
	}
}

// FrameImportance is the deterministic importance heuristic for closed
// frames: base 0.5, additive bonuses for type, structured inputs, outputs,
// and digest presence, multiplied by a time-decay factor floored at 0.3
// over a 30-day horizon. Result is capped at 1.0.
func FrameImportance(f *protocol.Frame, now time.Time) float64 {
	score := 0.5

	switch f.Type {
	case "task", "review":
		score += 0.2
	case "debug", "write", "error":
		score += 0.15
	}
	if len(f.Inputs) > 0 {
		score += 0.2
	}
	if len(f.Outputs) > 0 {
		score += 0.2
	}
	if f.DigestText != "" {
		score += 0.1
	}

	score *= decayFactor(frameTime(f), now)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// decayFactor decays linearly from 1.0 to the 0.3 floor over 30 days.
func decayFactor(t, now time.Time) float64 {
	age := now.Sub(t)
	if age <= 0 {
		return 1.0
	}
	factor := 1.0 - age.Hours()/(30*24)
	if factor < 0.3 {
		factor = 0.3
	}
	return factor
}

// recencyFactor decays linearly from 1.0 to 0 over 30 days, for ranking.
func recencyFactor(t, now time.Time) float64 {
	age := now.Sub(t)
	if age <= 0 {
		return 1.0
	}
	factor := 1.0 - age.Hours()/(30*24)
	if factor < 0 {
		factor = 0
	}
	return factor
}

// frameTime returns the frame's close time, or creation time while open.
func frameTime(f *protocol.Frame) time.Time {
	if f.ClosedAt != nil {
		return *f.ClosedAt
	}
	return f.CreatedAt
}
