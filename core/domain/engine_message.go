package domain

import "time"

// InboundMessage is one customer message delivered by the inbound transport.
// SenderName and Metadata carry the sender identity and any channel context
// the transport knows; they supply slot values for templated replies.
type InboundMessage struct {
	EventID        string            `json:"event_id"`
	ConversationID string            `json:"conversation_id"`
	Sender         string            `json:"sender"`
	SenderName     string            `json:"sender_name,omitempty"`
	Text           string            `json:"text"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
}

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	RoleCustomer TurnRole = "customer"
	RoleOperator TurnRole = "operator"
	RoleEngine   TurnRole = "engine"
)

// Turn is one entry in a conversation transcript, most-recent-last. Prior
// turns feed learning and implicit-feedback detection only, never matching.
type Turn struct {
	Role      TurnRole  `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
	EventID   string    `json:"event_id,omitempty" bson:"event_id,omitempty"`
	PatternID *int64    `json:"pattern_id,omitempty" bson:"pattern_id,omitempty"`
	At        time.Time `json:"at" bson:"at"`
}

// OutboundReply is a rendered text payload for the outbound transport.
type OutboundReply struct {
	ConversationID string `json:"conversation_id"`
	EventID        string `json:"event_id"`
	Text           string `json:"text"`
	PatternID      *int64 `json:"pattern_id,omitempty"`
	Auto           bool   `json:"auto"`
}
