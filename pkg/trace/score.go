package trace

// score computes a trace's importance in [0,1]: the maximum standalone
// tool score (a single high-value action dominates, so no averaging),
// plus bonuses for causal error-to-fix chains and recorded decisions,
// minus a penalty for errors that were never fixed.
func score(scorer ToolScorer, tools []ToolCall, meta Metadata) float64 {
	var max float64
	for _, t := range tools {
		if s := scorer(t.Name, factorsOf(t)); s > max {
			max = s
		}
	}

	s := max
	if meta.CausalChain {
		s += 0.10
	}
	s += 0.05 * float64(len(meta.Decisions))
	if s > 1.0 {
		s = 1.0
	}
	if len(meta.Errors) > 0 && !meta.CausalChain {
		s -= 0.10
	}
	if s < 0 {
		s = 0
	}
	return s
}
