// Package service wires matching, policy, safety, review and learning into
// the inbound message pipeline.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/config"
	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
	"github.com/clubhousegolfcanada/response-engine/core/service/policy"
	"github.com/clubhousegolfcanada/response-engine/core/service/safety"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
	"github.com/clubhousegolfcanada/response-engine/pkg/snowflake"
)

// Deduper marks events as seen exactly once.
type Deduper interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Matcher scores an inbound message against the pattern set.
type Matcher interface {
	Match(ctx context.Context, msg *domain.InboundMessage) (*domain.MatchResult, error)
}

// ReviewQueue enqueues held decisions for a human verdict.
type ReviewQueue interface {
	Enqueue(ctx context.Context, msg *domain.InboundMessage, candidate *domain.MatchCandidate, rendered string, degraded bool) (*domain.ReviewItem, error)
}

// FeedbackLearner folds operator replies into the pattern set.
type FeedbackLearner interface {
	LearnFromReply(ctx context.Context, messageText, replyText, category string) error
}

// ShadowRecorder records would-be decisions without acting on them.
type ShadowRecorder interface {
	Record(ctx context.Context, msg *domain.InboundMessage, ruling domain.Decision, best *domain.MatchCandidate, degraded bool) error
}

type Engine struct {
	dedupe      Deduper
	matcher     Matcher
	validator   *safety.Validator
	reviews     ReviewQueue
	learner     FeedbackLearner
	shadow      ShadowRecorder
	patterns    out.PatternRepository
	executions  out.ExecutionRepository
	transcripts out.TranscriptRepository
	sender      out.ReplySender
	shadowMode  bool
	log         zerolog.Logger
}

type EngineDeps struct {
	Dedupe      Deduper
	Matcher     Matcher
	Validator   *safety.Validator
	Reviews     ReviewQueue
	Learner     FeedbackLearner
	Shadow      ShadowRecorder
	Patterns    out.PatternRepository
	Executions  out.ExecutionRepository
	Transcripts out.TranscriptRepository
	Sender      out.ReplySender
	ShadowMode  bool
}

func NewEngine(d EngineDeps, log zerolog.Logger) *Engine {
	return &Engine{
		dedupe:      d.Dedupe,
		matcher:     d.Matcher,
		validator:   d.Validator,
		reviews:     d.Reviews,
		learner:     d.Learner,
		shadow:      d.Shadow,
		patterns:    d.Patterns,
		executions:  d.Executions,
		transcripts: d.Transcripts,
		sender:      d.Sender,
		shadowMode:  d.ShadowMode,
		log:         log.With().Str("component", "engine").Logger(),
	}
}

// HandleInbound processes one event from the inbound stream. Customer
// messages run the decision pipeline; operator messages feed the implicit
// feedback loop. A duplicate event id is dropped silently. On any error
// after the dedupe mark, the mark is released so a redelivery can retry.
func (e *Engine) HandleInbound(ctx context.Context, msg *domain.InboundMessage) error {
	seen, err := e.dedupe.MarkSeen(ctx, msg.EventID)
	if err != nil {
		return apperr.StoreUnavailable("dedupe", err)
	}
	if seen {
		e.log.Debug().Str("event_id", msg.EventID).Msg("duplicate event dropped")
		return nil
	}

	if msg.Sender == string(domain.RoleOperator) {
		err = e.handleOperatorTurn(ctx, msg)
	} else {
		err = e.handleCustomerTurn(ctx, msg)
	}
	if err != nil {
		if ferr := e.dedupe.Forget(ctx, msg.EventID); ferr != nil {
			e.log.Warn().Err(ferr).Str("event_id", msg.EventID).Msg("dedupe release failed")
		}
		return err
	}
	return nil
}

// ============================================
// Customer pipeline
// ============================================

func (e *Engine) handleCustomerTurn(ctx context.Context, msg *domain.InboundMessage) error {
	e.appendTurn(ctx, msg.ConversationID, &domain.Turn{
		Role:    domain.RoleCustomer,
		Text:    msg.Text,
		EventID: msg.EventID,
		At:      msg.ReceivedAt,
	})

	if !e.shadowMode {
		e.settleUncorrected(ctx, msg.ConversationID)
	}

	result, err := e.matcher.Match(ctx, msg)
	if err != nil {
		return err
	}

	pol := config.CurrentPolicy()

	// The message-text scan runs whether or not anything matched: a
	// sensitive message with no candidate still belongs in front of a human.
	sensitive := e.validator.Sensitive(msg.Text, pol.SensitiveKeywords)
	if sensitive {
		e.log.Info().Str("event_id", msg.EventID).Msg("sensitive message")
	}

	best := result.Best()
	rendered, safetyHold := "", false
	if best != nil {
		var unresolved []string
		rendered, unresolved = best.Pattern.Render(slotValues(msg))
		check := e.validator.Validate(best.Pattern, msg.Text, rendered, unresolved, pol.AlwaysReviewTags, pol.SensitiveKeywords)
		safetyHold = check.Hold()
		if safetyHold {
			e.log.Info().
				Str("event_id", msg.EventID).
				Int64("pattern_id", best.Pattern.ID).
				Interface("holds", check.Holds).
				Msg("safety hold")
		}
	}

	ruling := policy.Decide(best, result.Degraded, safetyHold, sensitive, pol)
	e.log.Info().
		Str("event_id", msg.EventID).
		Str("decision", string(ruling.Decision)).
		Str("reason", string(ruling.Reason)).
		Bool("degraded", result.Degraded).
		Msg("decision")

	if e.shadowMode {
		return e.shadow.Record(ctx, msg, ruling.Decision, best, result.Degraded)
	}

	switch ruling.Decision {
	case domain.DecisionAutoExecute:
		return e.autoExecute(ctx, msg, best, rendered, result.Degraded)
	case domain.DecisionQueued:
		return e.queue(ctx, msg, best, rendered, result.Degraded)
	default:
		return e.decline(ctx, msg, best, result.Degraded)
	}
}

func (e *Engine) autoExecute(ctx context.Context, msg *domain.InboundMessage, best *domain.MatchCandidate, rendered string, degraded bool) error {
	patternID := best.Pattern.ID
	if err := e.sender.Send(ctx, msg.ConversationID, msg.EventID, rendered, &patternID, true); err != nil {
		return apperr.DeliveryFailed(msg.ConversationID, err)
	}

	e.appendTurn(ctx, msg.ConversationID, &domain.Turn{
		Role:      domain.RoleEngine,
		Text:      rendered,
		EventID:   msg.EventID,
		PatternID: &patternID,
		At:        time.Now().UTC(),
	})

	return e.record(ctx, msg, domain.DecisionAutoExecute, best, degraded, &out.StatUpdate{
		PatternID: patternID,
		CountExec: true,
		TouchUsed: true,
	})
}

func (e *Engine) queue(ctx context.Context, msg *domain.InboundMessage, best *domain.MatchCandidate, rendered string, degraded bool) error {
	if _, err := e.reviews.Enqueue(ctx, msg, best, rendered, degraded); err != nil {
		return err
	}

	var update *out.StatUpdate
	if best != nil {
		update = &out.StatUpdate{
			PatternID: best.Pattern.ID,
			CountExec: true,
			TouchUsed: true,
		}
	}
	return e.record(ctx, msg, domain.DecisionQueued, best, degraded, update)
}

func (e *Engine) decline(ctx context.Context, msg *domain.InboundMessage, best *domain.MatchCandidate, degraded bool) error {
	return e.record(ctx, msg, domain.DecisionDeclined, best, degraded, nil)
}

func (e *Engine) record(ctx context.Context, msg *domain.InboundMessage, decision domain.Decision, best *domain.MatchCandidate, degraded bool, update *out.StatUpdate) error {
	rec := &domain.ExecutionRecord{
		ID:             snowflake.ID(),
		ConversationID: msg.ConversationID,
		EventID:        msg.EventID,
		Decision:       decision,
		Outcome:        domain.OutcomeNone,
		Degraded:       degraded,
		CreatedAt:      time.Now().UTC(),
	}
	if best != nil {
		id := best.Pattern.ID
		rec.PatternID = &id
		rec.Score = best.CombinedScore
	}
	return e.patterns.RecordExecution(ctx, rec, update)
}

// ============================================
// Operator feedback
// ============================================

// handleOperatorTurn records a manual operator reply and treats it as
// implicit feedback: a manual reply after a declined decision is a
// (question, answer) pair the engine failed to cover.
func (e *Engine) handleOperatorTurn(ctx context.Context, msg *domain.InboundMessage) error {
	e.appendTurn(ctx, msg.ConversationID, &domain.Turn{
		Role:    domain.RoleOperator,
		Text:    msg.Text,
		EventID: msg.EventID,
		At:      msg.ReceivedAt,
	})

	if e.shadowMode {
		return nil
	}

	recs, err := e.executions.ListByConversation(ctx, msg.ConversationID, 1)
	if err != nil || len(recs) == 0 {
		return nil
	}
	last := recs[0]

	switch last.Decision {
	case domain.DecisionAutoExecute:
		// An operator stepping in shortly after an auto-executed reply is
		// an implicit correction: the engine's reply was wrong.
		p := config.CurrentPolicy()
		window := time.Duration(p.FeedbackWindowMin) * time.Minute
		if last.Outcome == domain.OutcomeNone && last.PatternID != nil &&
			msg.ReceivedAt.Sub(last.CreatedAt) <= window {
			update := &out.StatUpdate{
				PatternID:    *last.PatternID,
				Rejected:     true,
				LearningRate: p.LearningRate,
			}
			if err := e.patterns.ResolveOutcome(ctx, last.ID, domain.OutcomeRejected, update); err != nil {
				e.log.Warn().Err(err).Int64("execution_id", last.ID).Msg("implicit rejection failed")
			}
		}
		return nil
	case domain.DecisionDeclined:
		question := e.lastCustomerText(ctx, msg.ConversationID)
		if question == "" {
			return nil
		}
		if err := e.learner.LearnFromReply(ctx, question, msg.Text, "general"); err != nil {
			e.log.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("implicit learning failed")
		}
		return nil
	default:
		// Queued items resolve through the review flow.
		return nil
	}
}

// settleUncorrected counts an unresolved auto-executed reply as accepted once
// the correction window has passed with no operator stepping in.
func (e *Engine) settleUncorrected(ctx context.Context, conversationID string) {
	recs, err := e.executions.ListByConversation(ctx, conversationID, 1)
	if err != nil || len(recs) == 0 {
		return
	}
	last := recs[0]
	if last.Decision != domain.DecisionAutoExecute || last.Outcome != domain.OutcomeNone || last.PatternID == nil {
		return
	}

	p := config.CurrentPolicy()
	window := time.Duration(p.FeedbackWindowMin) * time.Minute
	if time.Since(last.CreatedAt) < window {
		return
	}

	update := &out.StatUpdate{
		PatternID:    *last.PatternID,
		Accepted:     true,
		LearningRate: p.LearningRate,
	}
	if err := e.patterns.ResolveOutcome(ctx, last.ID, domain.OutcomeAccepted, update); err != nil {
		e.log.Warn().Err(err).Int64("execution_id", last.ID).Msg("implicit acceptance failed")
	}
}

func (e *Engine) lastCustomerText(ctx context.Context, conversationID string) string {
	turns, err := e.transcripts.Recent(ctx, conversationID, 10)
	if err != nil {
		return ""
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleCustomer {
			return turns[i].Text
		}
	}
	return ""
}

// slotValues builds the template slot values one inbound message can
// supply: the event metadata, the sender identity and the conversation id.
// Slots the message cannot fill stay unresolved and hold the reply for
// review.
func slotValues(msg *domain.InboundMessage) map[string]string {
	values := make(map[string]string, len(msg.Metadata)+2)
	for k, v := range msg.Metadata {
		values[k] = v
	}
	if msg.SenderName != "" {
		values["customer_name"] = msg.SenderName
	}
	values["conversation_id"] = msg.ConversationID
	return values
}

func (e *Engine) appendTurn(ctx context.Context, conversationID string, turn *domain.Turn) {
	if err := e.transcripts.Append(ctx, conversationID, turn); err != nil {
		e.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("transcript append failed")
	}
}
