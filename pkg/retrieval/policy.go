package retrieval

import "docchat/pkg/domain"

// Stage is one step of the threshold cascade: a pure filter over a ranked
// candidate list.
type Stage func([]domain.ScoredChunk) []domain.ScoredChunk

// Above keeps candidates scoring strictly above threshold. Candidates arrive
// ranked, so order is preserved.
func Above(threshold float64) Stage {
	return func(candidates []domain.ScoredChunk) []domain.ScoredChunk {
		var kept []domain.ScoredChunk
		for _, c := range candidates {
			if c.Similarity > threshold {
				kept = append(kept, c)
			}
		}
		return kept
	}
}

// Policy is the ordered threshold cascade. Stages run in sequence and the
// first non-empty result wins; when every stage comes up empty the search
// engine falls back to returning the whole scope, so a generator with any
// uploaded content never receives zero context.
type Policy struct {
	thresholds []float64
	stages     []Stage
}

// NewPolicy builds a cascade from thresholds applied in order,
// e.g. NewPolicy(0.3, 0.1).
func NewPolicy(thresholds ...float64) Policy {
	stages := make([]Stage, 0, len(thresholds))
	for _, t := range thresholds {
		stages = append(stages, Above(t))
	}
	return Policy{thresholds: thresholds, stages: stages}
}

// Thresholds returns the configured cascade values, in application order.
func (p Policy) Thresholds() []float64 {
	out := make([]float64, len(p.thresholds))
	copy(out, p.thresholds)
	return out
}

// Apply runs the cascade and returns the first non-empty stage output, or nil
// when no candidate clears any threshold.
func (p Policy) Apply(candidates []domain.ScoredChunk) []domain.ScoredChunk {
	for _, stage := range p.stages {
		if out := stage(candidates); len(out) > 0 {
			return out
		}
	}
	return nil
}
