// Package review owns the human-review queue: enqueueing held decisions,
// applying verdicts exactly once, and expiring items nobody acted on.
package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/config"
	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
	"github.com/clubhousegolfcanada/response-engine/core/service/policy"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

// OutcomeLearner receives resolved review items so edits and rejections can
// refine the pattern set.
type OutcomeLearner interface {
	ObserveResolution(ctx context.Context, item *domain.ReviewItem, outcome domain.Outcome, finalReply string) error
}

type Service struct {
	reviews     out.ReviewRepository
	patterns    out.PatternRepository
	executions  out.ExecutionRepository
	transcripts out.TranscriptRepository
	sender      out.ReplySender
	notifier    out.Notifier
	learner     OutcomeLearner
	ttl         time.Duration
	log         zerolog.Logger
}

type Deps struct {
	Reviews     out.ReviewRepository
	Patterns    out.PatternRepository
	Executions  out.ExecutionRepository
	Transcripts out.TranscriptRepository
	Sender      out.ReplySender
	Notifier    out.Notifier
	Learner     OutcomeLearner
	TTL         time.Duration
}

func NewService(d Deps, log zerolog.Logger) *Service {
	ttl := d.TTL
	if ttl == 0 {
		ttl = 72 * time.Hour
	}
	return &Service{
		reviews:     d.Reviews,
		patterns:    d.Patterns,
		executions:  d.Executions,
		transcripts: d.Transcripts,
		sender:      d.Sender,
		notifier:    d.Notifier,
		learner:     d.Learner,
		ttl:         ttl,
		log:         log.With().Str("component", "review_service").Logger(),
	}
}

// Enqueue creates a pending review item for a held decision and notifies
// operators. The notification is best-effort; a failed notify leaves the
// item queued and discoverable through the pending list.
func (s *Service) Enqueue(ctx context.Context, msg *domain.InboundMessage, candidate *domain.MatchCandidate, rendered string, degraded bool) (*domain.ReviewItem, error) {
	now := time.Now().UTC()
	item := &domain.ReviewItem{
		ID:             uuid.NewString(),
		EventID:        msg.EventID,
		ConversationID: msg.ConversationID,
		MessageText:    msg.Text,
		State:          domain.ReviewPending,
		Degraded:       degraded,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if candidate != nil {
		id := candidate.Pattern.ID
		item.PatternID = &id
		item.CandidateReply = rendered
		item.Score = candidate.CombinedScore
	}

	if err := s.reviews.Create(ctx, item); err != nil {
		return nil, err
	}

	if err := s.notifier.NotifyQueued(ctx, item.ConversationID, item.ID, item.PatternID, item.Score); err != nil {
		s.log.Warn().Err(err).Str("item_id", item.ID).Msg("review notification failed")
	}

	return item, nil
}

// ListPending returns the open queue, oldest first.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]*domain.ReviewItem, int, error) {
	return s.reviews.ListPending(ctx, limit, offset)
}

// Get returns one review item.
func (s *Service) Get(ctx context.Context, id string) (*domain.ReviewItem, error) {
	return s.reviews.GetByID(ctx, id)
}

// Resolve applies a human verdict to a pending item. The state transition
// is the idempotency guard: a second resolve of the same item returns an
// already-resolved error and applies nothing. Approve sends the candidate
// reply as-is; edit sends the operator's text; reject sends nothing.
func (s *Service) Resolve(ctx context.Context, id string, verdict domain.Verdict, editedReply string) (*domain.ReviewItem, error) {
	state, ok := verdict.StateFor()
	if !ok {
		return nil, apperr.InvalidInput("verdict", "must be approve, reject or edit")
	}

	var edited *string
	if verdict == domain.VerdictEdit {
		if editedReply == "" {
			return nil, apperr.InvalidInput("edited_reply", "required for an edit verdict")
		}
		edited = &editedReply
	}

	item, err := s.reviews.Resolve(ctx, id, state, edited, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	outcome := outcomeFor(verdict)
	s.log.Info().
		Str("item_id", item.ID).
		Str("verdict", string(verdict)).
		Str("conversation_id", item.ConversationID).
		Msg("review item resolved")

	if text := finalReply(item); text != "" {
		if err := s.deliver(ctx, item, text); err != nil {
			// The verdict stands; delivery is reported, not rolled back.
			s.log.Error().Err(err).Str("item_id", item.ID).Msg("resolved reply delivery failed")
			return item, err
		}
	}

	s.applyFeedback(ctx, item, outcome)

	if s.learner != nil {
		if err := s.learner.ObserveResolution(ctx, item, outcome, finalReply(item)); err != nil {
			s.log.Warn().Err(err).Str("item_id", item.ID).Msg("learner observation failed")
		}
	}

	return item, nil
}

// ExpireStale sweeps pending items past their deadline into the expired
// state. Expiry is a soft decline: nothing is sent and pattern confidence
// is untouched, since operator silence says nothing about reply quality.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.reviews.ExpirePending(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	for _, item := range expired {
		s.markExecution(ctx, item, domain.OutcomeExpired, nil)
	}
	if len(expired) > 0 {
		s.log.Info().Int("count", len(expired)).Msg("expired stale review items")
	}
	return len(expired), nil
}

// RunSweeper expires stale items on the interval until the context ends.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil {
				s.log.Error().Err(err).Msg("review sweep failed")
			}
		}
	}
}

func (s *Service) deliver(ctx context.Context, item *domain.ReviewItem, text string) error {
	if err := s.sender.Send(ctx, item.ConversationID, item.EventID, text, item.PatternID, false); err != nil {
		return apperr.DeliveryFailed(item.ConversationID, err)
	}
	turn := &domain.Turn{
		Role:      domain.RoleEngine,
		Text:      text,
		EventID:   item.EventID,
		PatternID: item.PatternID,
		At:        time.Now().UTC(),
	}
	if err := s.transcripts.Append(ctx, item.ConversationID, turn); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", item.ConversationID).Msg("transcript append failed")
	}
	return nil
}

// applyFeedback updates the execution record's outcome and, when the item
// references a pattern, steps its confidence.
func (s *Service) applyFeedback(ctx context.Context, item *domain.ReviewItem, outcome domain.Outcome) {
	var update *out.StatUpdate
	if item.PatternID != nil {
		if target, hasSignal := policy.TargetFor(outcome); hasSignal {
			p := config.CurrentPolicy()
			update = &out.StatUpdate{
				PatternID:    *item.PatternID,
				Accepted:     target == 1,
				Rejected:     target == 0,
				LearningRate: policy.RateFor(outcome, p.LearningRate, p.EditedRate),
			}
		}
	}
	s.markExecution(ctx, item, outcome, update)

	if item.PatternID != nil && outcome == domain.OutcomeAccepted {
		p := config.CurrentPolicy()
		promoted, err := s.patterns.PromoteAutoExecutable(ctx, *item.PatternID, p.MinExecutionsForAuto, p.PromoteConfidence)
		if err != nil {
			s.log.Warn().Err(err).Int64("pattern_id", *item.PatternID).Msg("promotion check failed")
		} else if promoted {
			s.log.Info().Int64("pattern_id", *item.PatternID).Msg("pattern promoted to auto-executable")
		}
	}
}

func (s *Service) markExecution(ctx context.Context, item *domain.ReviewItem, outcome domain.Outcome, update *out.StatUpdate) {
	rec, err := s.executions.GetByEventID(ctx, item.EventID)
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", item.EventID).Msg("execution record lookup failed")
		return
	}
	if err := s.patterns.ResolveOutcome(ctx, rec.ID, outcome, update); err != nil {
		s.log.Error().Err(err).Int64("execution_id", rec.ID).Msg("outcome resolution failed")
	}
}

func finalReply(item *domain.ReviewItem) string {
	switch item.State {
	case domain.ReviewApproved:
		return item.CandidateReply
	case domain.ReviewEdited:
		if item.EditedReply != nil {
			return *item.EditedReply
		}
	}
	return ""
}

func outcomeFor(v domain.Verdict) domain.Outcome {
	switch v {
	case domain.VerdictApprove:
		return domain.OutcomeAccepted
	case domain.VerdictEdit:
		return domain.OutcomeEdited
	default:
		return domain.OutcomeRejected
	}
}
