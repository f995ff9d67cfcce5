package domain

import "time"

// ReviewState is the lifecycle state of a review queue item. Transitions
// are one-way: pending → approved | rejected | edited | expired. A
// resolved item is terminal; a second resolve is rejected, not applied.
type ReviewState string

const (
	ReviewPending  ReviewState = "pending"
	ReviewApproved ReviewState = "approved"
	ReviewRejected ReviewState = "rejected"
	ReviewEdited   ReviewState = "edited"
	ReviewExpired  ReviewState = "expired"
)

// IsTerminal reports whether the state admits no further transitions.
func (s ReviewState) IsTerminal() bool {
	return s != ReviewPending
}

// Verdict is a human resolution of a pending review item.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	VerdictEdit    Verdict = "edit"
)

// StateFor maps a verdict to the resulting review state.
func (v Verdict) StateFor() (ReviewState, bool) {
	switch v {
	case VerdictApprove:
		return ReviewApproved, true
	case VerdictReject:
		return ReviewRejected, true
	case VerdictEdit:
		return ReviewEdited, true
	}
	return "", false
}

// ReviewItem holds a queued decision awaiting a human verdict.
type ReviewItem struct {
	ID             string      `json:"id"`
	EventID        string      `json:"event_id"`
	ConversationID string      `json:"conversation_id"`
	MessageText    string      `json:"message_text"`
	PatternID      *int64      `json:"pattern_id,omitempty"` // nil when no match met the floor
	CandidateReply string      `json:"candidate_reply,omitempty"`
	Score          float64     `json:"score"`
	Degraded       bool        `json:"degraded"`
	State          ReviewState `json:"state"`
	EditedReply    *string     `json:"edited_reply,omitempty"` // set when State == edited
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
}
