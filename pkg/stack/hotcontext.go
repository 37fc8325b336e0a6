package stack

import (
	"context"

	"strata/pkg/protocol"
)

// FrameContext is the live view of one open frame for prompt assembly.
type FrameContext struct {
	FrameID         string            `json:"frame_id"`
	Depth           int               `json:"depth"`
	Type            string            `json:"type"`
	Goal            string            `json:"goal"`
	Constraints     []string          `json:"constraints,omitempty"`
	Anchors         []protocol.Anchor `json:"anchors,omitempty"`
	RecentEvents    []protocol.Event  `json:"recent_events,omitempty"`
	ActiveArtifacts []string          `json:"active_artifacts,omitempty"`
}

// HotContext assembles the live view for every frame on the active stack,
// root first: the declared goal, constraints extracted from inputs, all
// anchors, the maxEvents most recent events, and the distinct artifact
// refs still current (a later artifact event with the same ref supersedes
// earlier ones).
func (m *Manager) HotContext(ctx context.Context, maxEvents int) ([]FrameContext, error) {
	if maxEvents <= 0 {
		maxEvents = 10
	}

	out := make([]FrameContext, 0, len(m.stack))
	for _, id := range m.stack {
		f, err := m.store.GetFrame(ctx, id)
		if err != nil {
			return nil, err
		}
		anchors, err := m.store.ListAnchors(ctx, id)
		if err != nil {
			return nil, err
		}
		recent, err := m.store.RecentEvents(ctx, id, maxEvents)
		if err != nil {
			return nil, err
		}
		all, err := m.store.ListEvents(ctx, id, 0)
		if err != nil {
			return nil, err
		}

		out = append(out, FrameContext{
			FrameID:         f.FrameID,
			Depth:           f.Depth,
			Type:            f.Type,
			Goal:            f.Name,
			Constraints:     inputConstraints(f.Inputs),
			Anchors:         anchors,
			RecentEvents:    recent,
			ActiveArtifacts: activeArtifacts(all),
		})
	}
	return out, nil
}

// inputConstraints extracts declared constraints from frame inputs: either
// a "constraints" list or a single string.
func inputConstraints(inputs map[string]any) []string {
	if inputs == nil {
		return nil
	}
	switch v := inputs["constraints"].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// activeArtifacts returns the distinct artifact refs in first-seen order,
// dropping refs superseded by a later event for the same ref.
func activeArtifacts(events []protocol.Event) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, e := range events {
		if e.EventType != protocol.EventArtifact {
			continue
		}
		ref := artifactRef(e.Payload)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}
