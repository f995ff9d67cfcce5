// Package messaging provides Redis Stream adapters for the engine's
// transports: outbound replies, operator escalations, and the inbound
// event consumer.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/redis/go-redis/v9"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
)

// Stream names
const (
	StreamInbound     = "conv:inbound"
	StreamOutbound    = "conv:outbound"
	StreamEscalations = "engine:escalations"
)

// Escalation kinds published to the escalation stream.
const (
	EscalationReviewQueued   = "review_queued"
	EscalationPatternCreated = "pattern_created"
)

// StreamProducer implements out.ReplySender and out.Notifier using Redis
// Streams. Replies are published exactly once with a single XADD; delivery
// to the downstream channel connector is its own concern.
type StreamProducer struct {
	client *redis.Client
}

// NewStreamProducer creates a new StreamProducer.
func NewStreamProducer(client *redis.Client) *StreamProducer {
	return &StreamProducer{client: client}
}

// Send publishes a rendered reply to the outbound stream.
func (p *StreamProducer) Send(ctx context.Context, conversationID, eventID, text string, patternID *int64, auto bool) error {
	reply := domain.OutboundReply{
		ConversationID: conversationID,
		EventID:        eventID,
		Text:           text,
		PatternID:      patternID,
		Auto:           auto,
	}
	return p.publish(ctx, StreamOutbound, reply)
}

// escalationEvent is the payload published to the escalation stream.
type escalationEvent struct {
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ItemID         string    `json:"item_id,omitempty"`
	PatternID      int64     `json:"pattern_id,omitempty"`
	Category       string    `json:"category,omitempty"`
	Score          float64   `json:"score,omitempty"`
	At             time.Time `json:"at"`
}

// NotifyQueued tells operators a decision is waiting for a verdict.
func (p *StreamProducer) NotifyQueued(ctx context.Context, conversationID, itemID string, patternID *int64, score float64) error {
	ev := escalationEvent{
		Kind:           EscalationReviewQueued,
		ConversationID: conversationID,
		ItemID:         itemID,
		Score:          score,
		At:             time.Now().UTC(),
	}
	if patternID != nil {
		ev.PatternID = *patternID
	}
	return p.publish(ctx, StreamEscalations, ev)
}

// NotifyPatternCreated tells operators the learner proposed a pattern.
func (p *StreamProducer) NotifyPatternCreated(ctx context.Context, patternID int64, category string) error {
	return p.publish(ctx, StreamEscalations, escalationEvent{
		Kind:      EscalationPatternCreated,
		PatternID: patternID,
		Category:  category,
		At:        time.Now().UTC(),
	})
}

// publish publishes a payload to a stream using go-redis.
func (p *StreamProducer) publish(ctx context.Context, stream string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

// Ensure StreamProducer implements the outbound ports
var (
	_ out.ReplySender = (*StreamProducer)(nil)
	_ out.Notifier    = (*StreamProducer)(nil)
)
