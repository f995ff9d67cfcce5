package out

import (
	"context"
	"time"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
)

// PatternRepository owns persisted pattern records. All statistic writes go
// through RecordExecution so concurrent outcomes never lose an increment.
type PatternRepository interface {
	// GetCandidates returns the enabled patterns eligible for matching the
	// message. An embedding may be passed to shortlist by similarity as a
	// performance optimization; eligibility is unchanged by it. Disabled
	// patterns are never returned.
	GetCandidates(ctx context.Context, msg *domain.InboundMessage, embedding []float32, limit int) ([]*domain.Pattern, error)

	// Upsert creates or updates a pattern keyed on (category, name).
	// Importing the same set twice does not create duplicates.
	Upsert(ctx context.Context, p *domain.Pattern) error

	GetByID(ctx context.Context, id int64) (*domain.Pattern, error)
	List(ctx context.Context, category string, limit, offset int) ([]*domain.Pattern, int, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error

	// AppendTriggerExample adds a trigger example and replaces the stored
	// embedding, used by the learner when reinforcing a pattern.
	AppendTriggerExample(ctx context.Context, id int64, example string, embedding []float32) error

	// PromoteAutoExecutable flips is_auto_executable once the pattern has
	// at least minExecutions executions and confidence >= minConfidence.
	PromoteAutoExecutable(ctx context.Context, id int64, minExecutions int, minConfidence float64) (bool, error)

	// RecordExecution appends the execution record and, when it references
	// a pattern and carries an outcome signal, atomically updates that
	// pattern's statistics in the same transaction (row-locked update,
	// retried on serialization conflict).
	RecordExecution(ctx context.Context, rec *domain.ExecutionRecord, update *StatUpdate) error

	// ResolveOutcome rewrites the outcome of an execution record that was
	// finalized later (review verdict, implicit feedback) and applies the
	// statistic update. The original decision row is not mutated; a
	// resolution row is appended.
	ResolveOutcome(ctx context.Context, executionID int64, outcome domain.Outcome, update *StatUpdate) error
}

// StatUpdate describes the statistic delta applied to a pattern inside
// RecordExecution / ResolveOutcome. LearningRate drives the bounded EMA:
// confidence' = clamp01(confidence + rate * (target - confidence)).
type StatUpdate struct {
	PatternID    int64
	CountExec    bool    // increment execution_count
	Accepted     bool    // increment accepted_count, target 1
	Rejected     bool    // increment rejected_count, target 0
	LearningRate float64 // EMA step; 0 means no confidence change
	TouchUsed    bool    // refresh last_used_at
}

// ExecutionRepository reads the append-only audit trail.
type ExecutionRepository interface {
	GetByEventID(ctx context.Context, eventID string) (*domain.ExecutionRecord, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.ExecutionRecord, error)
	Summary(ctx context.Context, since time.Time) (*domain.ExecutionSummary, error)
}

// ReviewRepository owns review queue item state transitions.
type ReviewRepository interface {
	Create(ctx context.Context, item *domain.ReviewItem) error
	GetByID(ctx context.Context, id string) (*domain.ReviewItem, error)
	ListPending(ctx context.Context, limit, offset int) ([]*domain.ReviewItem, int, error)

	// Resolve transitions pending → terminal. Returns the updated item, or
	// an already-resolved error if the item left pending first. The guard
	// is the UPDATE's WHERE state='pending', so of two concurrent resolves
	// exactly one wins.
	Resolve(ctx context.Context, id string, state domain.ReviewState, editedReply *string, at time.Time) (*domain.ReviewItem, error)

	// ExpirePending sweeps pending items whose deadline passed into the
	// expired state and returns them.
	ExpirePending(ctx context.Context, olderThan time.Time) ([]*domain.ReviewItem, error)
}

// TranscriptRepository stores conversation turns, most-recent-last.
type TranscriptRepository interface {
	Append(ctx context.Context, conversationID string, turn *domain.Turn) error
	Recent(ctx context.Context, conversationID string, limit int) ([]*domain.Turn, error)
}
