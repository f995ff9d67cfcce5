// Package policy turns a ranked match result into a decision: auto-execute,
// queue for human review, or decline. It is pure — no I/O, no clock — so
// every branch is testable directly.
package policy

import (
	"github.com/clubhousegolfcanada/response-engine/config"
	"github.com/clubhousegolfcanada/response-engine/core/domain"
)

// Reason explains a decision for logging and the audit trail.
type Reason string

const (
	ReasonAutoMatch        Reason = "score_above_auto_threshold"
	ReasonNotAuto          Reason = "pattern_not_auto_executable"
	ReasonDegraded         Reason = "degraded_match"
	ReasonSafetyHold       Reason = "safety_hold"
	ReasonSensitiveMessage Reason = "sensitive_message"
	ReasonBelowAuto        Reason = "score_below_auto_threshold"
	ReasonBelowFloor       Reason = "score_below_queue_floor"
	ReasonNoCandidate      Reason = "no_candidate"
	ReasonActionNone       Reason = "pattern_action_none"
)

// Ruling is the policy verdict for one inbound message.
type Ruling struct {
	Decision domain.Decision
	Reason   Reason
}

// Decide applies the decision policy to the best candidate.
//
// A sensitive message routes to review before anything else is considered:
// no candidate and no score threshold can decline it, and no score can
// auto-execute past it. Otherwise auto-execution requires every gate to
// pass: a candidate at or above the auto threshold, a pattern marked
// auto-executable, a clean safety check, and a non-degraded match. Failing
// any gate with a score at or above the queue floor queues the candidate
// for review; below the floor the message is declined. No candidate at all
// means decline.
func Decide(best *domain.MatchCandidate, degraded, safetyHold, sensitive bool, p config.PolicyConfig) Ruling {
	if sensitive {
		return Ruling{domain.DecisionQueued, ReasonSensitiveMessage}
	}
	if best == nil {
		return Ruling{domain.DecisionDeclined, ReasonNoCandidate}
	}
	if best.CombinedScore < p.QueueFloor {
		return Ruling{domain.DecisionDeclined, ReasonBelowFloor}
	}

	// At or above the floor: the only question left is auto vs queue.
	switch {
	case safetyHold:
		return Ruling{domain.DecisionQueued, ReasonSafetyHold}
	case degraded:
		return Ruling{domain.DecisionQueued, ReasonDegraded}
	case best.Pattern.ActionKind == domain.ActionNone:
		return Ruling{domain.DecisionQueued, ReasonActionNone}
	case !best.Pattern.AutoExecutable:
		return Ruling{domain.DecisionQueued, ReasonNotAuto}
	case best.CombinedScore < p.AutoThreshold:
		return Ruling{domain.DecisionQueued, ReasonBelowAuto}
	default:
		return Ruling{domain.DecisionAutoExecute, ReasonAutoMatch}
	}
}
