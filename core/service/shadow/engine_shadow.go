// Package shadow records what the engine would have done without doing it.
// In shadow mode every decision lands in the audit trail flagged as a
// shadow evaluation and nothing is sent, queued or learned, so a rollout
// can be judged against live traffic first.
package shadow

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
	"github.com/clubhousegolfcanada/response-engine/pkg/snowflake"
)

type Recorder struct {
	patterns out.PatternRepository
	log      zerolog.Logger
}

func NewRecorder(patterns out.PatternRepository, log zerolog.Logger) *Recorder {
	return &Recorder{
		patterns: patterns,
		log:      log.With().Str("component", "shadow_recorder").Logger(),
	}
}

// Record writes a shadow execution record for the decision the policy
// reached. No pattern statistics move; the record is observation only.
func (r *Recorder) Record(ctx context.Context, msg *domain.InboundMessage, ruling domain.Decision, best *domain.MatchCandidate, degraded bool) error {
	rec := &domain.ExecutionRecord{
		ID:             snowflake.ID(),
		ConversationID: msg.ConversationID,
		EventID:        msg.EventID,
		Decision:       ruling,
		Outcome:        domain.OutcomeNone,
		Degraded:       degraded,
		Shadow:         true,
		CreatedAt:      time.Now().UTC(),
	}
	if best != nil {
		id := best.Pattern.ID
		rec.PatternID = &id
		rec.Score = best.CombinedScore
	}

	if err := r.patterns.RecordExecution(ctx, rec, nil); err != nil {
		return err
	}

	r.log.Info().
		Str("event_id", msg.EventID).
		Str("decision", string(ruling)).
		Float64("score", rec.Score).
		Bool("degraded", degraded).
		Msg("shadow decision recorded")
	return nil
}
