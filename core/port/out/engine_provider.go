package out

import "context"

// EmbeddingProvider wraps the external embedding/completion provider. Both
// calls carry a bounded timeout and return a typed failure
// (apperr.CodeProviderUnavailable) on error or timeout; callers degrade
// locally instead of propagating the failure.
type EmbeddingProvider interface {
	// Embed returns a fixed-length vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text in a single provider call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Generalize asks the completion side to turn a concrete example reply
	// into a slotted template for the category, with a confidence in [0,1].
	Generalize(ctx context.Context, exampleText, category string) (*Generalization, error)
}

// Generalization is the provider's templated rewrite of an example reply.
type Generalization struct {
	Template   string   `json:"template"`
	Slots      []string `json:"slots"`
	Confidence float64  `json:"confidence"`
}

// ReplySender delivers a rendered reply to the outbound transport. One
// attempt only; failure is reported to the caller, never retried here.
type ReplySender interface {
	Send(ctx context.Context, conversationID, eventID, text string, patternID *int64, auto bool) error
}

// Notifier publishes escalation events: a message queued for review, or a
// pattern newly created by the learner.
type Notifier interface {
	NotifyQueued(ctx context.Context, conversationID, itemID string, patternID *int64, score float64) error
	NotifyPatternCreated(ctx context.Context, patternID int64, category string) error
}
