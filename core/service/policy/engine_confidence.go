package policy

import "github.com/clubhousegolfcanada/response-engine/core/domain"

// ============================================
// Confidence updates (bounded EMA)
// ============================================

// NextConfidence moves confidence one EMA step toward target and clamps the
// result to [0,1]:
//
//	c' = clamp01(c + rate * (target - c))
//
// Repeated accepts approach but never exceed 1; repeated rejects approach
// but never fall below 0.
func NextConfidence(current, target, rate float64) float64 {
	next := current + rate*(target-current)
	if next < 0 {
		return 0
	}
	if next > 1 {
		return 1
	}
	return next
}

// TargetFor maps an outcome to its EMA target and whether the outcome
// carries a confidence signal at all. Expiry carries none: an operator not
// acting in time says nothing about the reply's quality.
func TargetFor(outcome domain.Outcome) (target float64, ok bool) {
	switch outcome {
	case domain.OutcomeAccepted:
		return 1, true
	case domain.OutcomeRejected, domain.OutcomeEdited:
		return 0, true
	default:
		return 0, false
	}
}

// RateFor returns the EMA step for an outcome. Edits move confidence at the
// reduced rate since an edited reply was partially useful.
func RateFor(outcome domain.Outcome, learningRate, editedRate float64) float64 {
	if outcome == domain.OutcomeEdited {
		return editedRate
	}
	return learningRate
}
