package domain

import "time"

// Decision is the action the policy took for one inbound message.
type Decision string

const (
	DecisionAutoExecute Decision = "auto_execute"
	DecisionQueued      Decision = "queued"
	DecisionDeclined    Decision = "declined"
)

// Outcome is the final resolution of a decision.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeEdited   Outcome = "edited"
	OutcomeExpired  Outcome = "expired"
	OutcomeNone     Outcome = "none" // not yet resolved, or no signal
)

// ExecutionRecord is the append-only audit trail entry written on every
// decision. Immutable once written; confidence recomputation and analytics
// read it, nothing mutates it.
type ExecutionRecord struct {
	ID             int64     `json:"id"` // snowflake, time-sortable
	PatternID      *int64    `json:"pattern_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	EventID        string    `json:"event_id"`
	Decision       Decision  `json:"decision"`
	Outcome        Outcome   `json:"outcome"`
	Score          float64   `json:"score"`
	Degraded       bool      `json:"degraded"`
	Shadow         bool      `json:"shadow"` // shadow evaluation, side-channel only
	CreatedAt      time.Time `json:"created_at"`
}

// ExecutionSummary aggregates records for the analytics endpoint.
type ExecutionSummary struct {
	Total      int64            `json:"total"`
	ByDecision map[string]int64 `json:"by_decision"`
	ByOutcome  map[string]int64 `json:"by_outcome"`
	Degraded   int64            `json:"degraded"`
	Shadow     int64            `json:"shadow"`
}
