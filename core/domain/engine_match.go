package domain

// MatchCandidate is one scored (pattern, message) pairing. Ephemeral, never
// persisted.
type MatchCandidate struct {
	Pattern       *Pattern
	LexicalScore  float64 // [0,1]
	SemanticScore float64 // [0,1]; 0 when degraded
	CombinedScore float64 // weighted blend, [0,1]
}

// MatchResult is the ranked output of the matcher for one message.
type MatchResult struct {
	Candidates []MatchCandidate // highest combined score first

	// Degraded is set when the embedding provider was unavailable and
	// scoring fell back to lexical only. The decision policy treats
	// degraded matches conservatively: they never auto-execute.
	Degraded bool
}

// Best returns the top candidate, or nil when nothing matched.
func (r *MatchResult) Best() *MatchCandidate {
	if len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}
