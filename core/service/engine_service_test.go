package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
	"github.com/clubhousegolfcanada/response-engine/core/service/safety"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
	"github.com/clubhousegolfcanada/response-engine/pkg/snowflake"
)

func TestMain(m *testing.M) {
	if err := snowflake.Init(1); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// ============================================
// Fakes
// ============================================

type fakeDeduper struct {
	seen      map[string]bool
	forgotten []string
	err       error
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (f *fakeDeduper) MarkSeen(_ context.Context, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[eventID] {
		return true, nil
	}
	f.seen[eventID] = true
	return false, nil
}

func (f *fakeDeduper) Forget(_ context.Context, eventID string) error {
	delete(f.seen, eventID)
	f.forgotten = append(f.forgotten, eventID)
	return nil
}

type fakeMatcher struct {
	result *domain.MatchResult
	err    error
}

func (f *fakeMatcher) Match(_ context.Context, _ *domain.InboundMessage) (*domain.MatchResult, error) {
	return f.result, f.err
}

type fakeReviewQueue struct {
	enqueued []*domain.MatchCandidate
}

func (f *fakeReviewQueue) Enqueue(_ context.Context, msg *domain.InboundMessage, candidate *domain.MatchCandidate, _ string, _ bool) (*domain.ReviewItem, error) {
	f.enqueued = append(f.enqueued, candidate)
	return &domain.ReviewItem{ID: "item-1", EventID: msg.EventID}, nil
}

type fakeLearner struct {
	pairs [][2]string
}

func (f *fakeLearner) LearnFromReply(_ context.Context, messageText, replyText, _ string) error {
	f.pairs = append(f.pairs, [2]string{messageText, replyText})
	return nil
}

type fakeShadow struct {
	records []domain.Decision
}

func (f *fakeShadow) Record(_ context.Context, _ *domain.InboundMessage, ruling domain.Decision, _ *domain.MatchCandidate, _ bool) error {
	f.records = append(f.records, ruling)
	return nil
}

type resolvedOutcome struct {
	executionID int64
	outcome     domain.Outcome
	update      *out.StatUpdate
}

type fakePatternRepo struct {
	out.PatternRepository
	records  []*domain.ExecutionRecord
	updates  []*out.StatUpdate
	resolved []resolvedOutcome
}

func (f *fakePatternRepo) RecordExecution(_ context.Context, rec *domain.ExecutionRecord, update *out.StatUpdate) error {
	f.records = append(f.records, rec)
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakePatternRepo) ResolveOutcome(_ context.Context, executionID int64, outcome domain.Outcome, update *out.StatUpdate) error {
	f.resolved = append(f.resolved, resolvedOutcome{executionID, outcome, update})
	return nil
}

type fakeExecutionRepo struct {
	out.ExecutionRepository
	recent []*domain.ExecutionRecord
}

func (f *fakeExecutionRepo) ListByConversation(_ context.Context, _ string, _ int) ([]*domain.ExecutionRecord, error) {
	return f.recent, nil
}

type fakeTranscriptRepo struct {
	turns []*domain.Turn
}

func (f *fakeTranscriptRepo) Append(_ context.Context, _ string, turn *domain.Turn) error {
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeTranscriptRepo) Recent(_ context.Context, _ string, _ int) ([]*domain.Turn, error) {
	return f.turns, nil
}

type fakeSender struct {
	sent []domain.OutboundReply
	err  error
}

func (f *fakeSender) Send(_ context.Context, conversationID, eventID, text string, patternID *int64, auto bool) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, domain.OutboundReply{
		ConversationID: conversationID,
		EventID:        eventID,
		Text:           text,
		PatternID:      patternID,
		Auto:           auto,
	})
	return nil
}

// ============================================
// Harness
// ============================================

type harness struct {
	engine      *Engine
	dedupe      *fakeDeduper
	matcher     *fakeMatcher
	reviews     *fakeReviewQueue
	learner     *fakeLearner
	shadow      *fakeShadow
	patterns    *fakePatternRepo
	executions  *fakeExecutionRepo
	transcripts *fakeTranscriptRepo
	sender      *fakeSender
}

func newHarness(shadowMode bool) *harness {
	h := &harness{
		dedupe:      newFakeDeduper(),
		matcher:     &fakeMatcher{result: &domain.MatchResult{}},
		reviews:     &fakeReviewQueue{},
		learner:     &fakeLearner{},
		shadow:      &fakeShadow{},
		patterns:    &fakePatternRepo{},
		executions:  &fakeExecutionRepo{},
		transcripts: &fakeTranscriptRepo{},
		sender:      &fakeSender{},
	}
	h.engine = NewEngine(EngineDeps{
		Dedupe:      h.dedupe,
		Matcher:     h.matcher,
		Validator:   safety.NewValidator(),
		Reviews:     h.reviews,
		Learner:     h.learner,
		Shadow:      h.shadow,
		Patterns:    h.patterns,
		Executions:  h.executions,
		Transcripts: h.transcripts,
		Sender:      h.sender,
		ShadowMode:  shadowMode,
	}, zerolog.Nop())
	return h
}

func (h *harness) setMatch(score float64, auto bool, template string) *domain.MatchCandidate {
	c := domain.MatchCandidate{
		Pattern: &domain.Pattern{
			ID:             7,
			Name:           "hours",
			Category:       "general",
			Template:       template,
			ActionKind:     domain.ActionSendReply,
			AutoExecutable: auto,
			Enabled:        true,
			Confidence:     0.8,
		},
		CombinedScore: score,
	}
	h.matcher.result = &domain.MatchResult{Candidates: []domain.MatchCandidate{c}}
	return &h.matcher.result.Candidates[0]
}

func customerMsg(eventID, text string) *domain.InboundMessage {
	return &domain.InboundMessage{
		EventID:        eventID,
		ConversationID: "conv-1",
		Sender:         "customer",
		Text:           text,
		ReceivedAt:     time.Now(),
	}
}

// ============================================
// Tests
// ============================================

func TestHandleInboundAutoExecutes(t *testing.T) {
	h := newHarness(false)
	h.setMatch(0.92, true, "We open at 9am daily.")

	err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "what time do you open"))
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}

	if len(h.sender.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(h.sender.sent))
	}
	reply := h.sender.sent[0]
	if !reply.Auto {
		t.Error("reply should be flagged auto")
	}
	if reply.Text != "We open at 9am daily." {
		t.Errorf("reply text = %q", reply.Text)
	}

	// Customer turn plus engine turn on the transcript.
	if len(h.transcripts.turns) != 2 {
		t.Fatalf("transcript has %d turns, want 2", len(h.transcripts.turns))
	}
	if h.transcripts.turns[1].Role != domain.RoleEngine {
		t.Errorf("second turn role = %s, want engine", h.transcripts.turns[1].Role)
	}

	// Audit trail with an execution-count update and no outcome yet.
	if len(h.patterns.records) != 1 {
		t.Fatalf("recorded %d executions, want 1", len(h.patterns.records))
	}
	rec := h.patterns.records[0]
	if rec.Decision != domain.DecisionAutoExecute || rec.Outcome != domain.OutcomeNone {
		t.Errorf("record = %s/%s, want auto_execute/none", rec.Decision, rec.Outcome)
	}
	update := h.patterns.updates[0]
	if update == nil || !update.CountExec || !update.TouchUsed || update.LearningRate != 0 {
		t.Errorf("update = %+v, want exec count only", update)
	}
}

func TestHandleInboundQueuesMidScore(t *testing.T) {
	h := newHarness(false)
	h.setMatch(0.70, true, "We open at 9am daily.")

	if err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "opening hours?")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 0 {
		t.Error("queued decision must not send")
	}
	if len(h.reviews.enqueued) != 1 {
		t.Fatalf("enqueued %d items, want 1", len(h.reviews.enqueued))
	}
	if h.patterns.records[0].Decision != domain.DecisionQueued {
		t.Errorf("decision = %s, want queued", h.patterns.records[0].Decision)
	}
}

func TestHandleInboundUnresolvedSlotQueuesDespiteScore(t *testing.T) {
	h := newHarness(false)
	h.setMatch(0.95, true, "Your booking is at {{booking_time}}.")

	if err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "when is my booking")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 0 {
		t.Error("a reply with unresolved slots must never auto-send")
	}
	if len(h.reviews.enqueued) != 1 {
		t.Errorf("enqueued %d items, want 1", len(h.reviews.enqueued))
	}
}

func TestHandleInboundDegradedNeverAutoExecutes(t *testing.T) {
	h := newHarness(false)
	h.setMatch(0.95, true, "We open at 9am daily.")
	h.matcher.result.Degraded = true

	if err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "what time do you open")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 0 {
		t.Error("degraded match must not auto-send")
	}
	if len(h.reviews.enqueued) != 1 {
		t.Errorf("enqueued %d items, want 1", len(h.reviews.enqueued))
	}
	if !h.patterns.records[0].Degraded {
		t.Error("execution record should carry the degraded flag")
	}
}

func TestHandleInboundSensitiveMessageAlwaysQueues(t *testing.T) {
	t.Run("no candidates", func(t *testing.T) {
		h := newHarness(false)

		msg := customerMsg("evt-1", "I was injured at the range and my lawyer will sue you")
		if err := h.engine.HandleInbound(context.Background(), msg); err != nil {
			t.Fatalf("HandleInbound: %v", err)
		}
		if len(h.sender.sent) != 0 {
			t.Error("sensitive message must not auto-send")
		}
		if len(h.reviews.enqueued) != 1 {
			t.Fatalf("enqueued %d items, want 1", len(h.reviews.enqueued))
		}
		if h.reviews.enqueued[0] != nil {
			t.Error("queued without a match should carry no candidate")
		}
		if h.patterns.records[0].Decision != domain.DecisionQueued {
			t.Errorf("decision = %s, want queued", h.patterns.records[0].Decision)
		}
	})

	t.Run("sub-floor match", func(t *testing.T) {
		h := newHarness(false)
		h.setMatch(0.20, true, "We open at 9am daily.")

		msg := customerMsg("evt-1", "refund my payment or face legal action")
		if err := h.engine.HandleInbound(context.Background(), msg); err != nil {
			t.Fatalf("HandleInbound: %v", err)
		}
		if len(h.reviews.enqueued) != 1 {
			t.Fatalf("enqueued %d items, want 1", len(h.reviews.enqueued))
		}
		if h.patterns.records[0].Decision != domain.DecisionQueued {
			t.Errorf("decision = %s, want queued instead of declined", h.patterns.records[0].Decision)
		}
	})

	t.Run("above auto threshold", func(t *testing.T) {
		h := newHarness(false)
		h.setMatch(0.95, true, "We open at 9am daily.")

		msg := customerMsg("evt-1", "I will start a chargeback, what time do you open")
		if err := h.engine.HandleInbound(context.Background(), msg); err != nil {
			t.Fatalf("HandleInbound: %v", err)
		}
		if len(h.sender.sent) != 0 {
			t.Error("sensitive message must not auto-send at any score")
		}
		if len(h.reviews.enqueued) != 1 {
			t.Errorf("enqueued %d items, want 1", len(h.reviews.enqueued))
		}
	})
}

func TestAutoExecuteResolvesSlotsFromMessage(t *testing.T) {
	h := newHarness(false)
	h.setMatch(0.92, true, "Thanks {{customer_name}}, we open at 9am daily.")

	msg := customerMsg("evt-1", "what time do you open")
	msg.SenderName = "Avery"
	if err := h.engine.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(h.sender.sent))
	}
	if got := h.sender.sent[0].Text; got != "Thanks Avery, we open at 9am daily." {
		t.Errorf("reply text = %q, want the resolved slot", got)
	}
}

func TestAutoExecuteResolvesSlotsFromMetadata(t *testing.T) {
	h := newHarness(false)
	h.setMatch(0.92, true, "Your lane at {{location}} is confirmed.")

	msg := customerMsg("evt-1", "is my lane booked")
	msg.Metadata = map[string]string{"location": "Harbourfront"}
	if err := h.engine.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(h.sender.sent))
	}
	if got := h.sender.sent[0].Text; got != "Your lane at Harbourfront is confirmed." {
		t.Errorf("reply text = %q, want the resolved slot", got)
	}
}

func TestHandleInboundDeclinesNoMatch(t *testing.T) {
	h := newHarness(false)

	if err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "unintelligible")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 0 || len(h.reviews.enqueued) != 0 {
		t.Error("no-match should neither send nor queue")
	}
	rec := h.patterns.records[0]
	if rec.Decision != domain.DecisionDeclined || rec.PatternID != nil {
		t.Errorf("record = %+v, want declined without pattern", rec)
	}
	if h.patterns.updates[0] != nil {
		t.Error("decline must not update pattern stats")
	}
}

func TestHandleInboundDropsDuplicate(t *testing.T) {
	h := newHarness(false)
	h.setMatch(0.92, true, "We open at 9am daily.")
	msg := customerMsg("evt-1", "what time do you open")

	if err := h.engine.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := h.engine.HandleInbound(context.Background(), msg); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sent %d replies, want 1 despite duplicate delivery", len(h.sender.sent))
	}
	if len(h.patterns.records) != 1 {
		t.Errorf("recorded %d executions, want 1", len(h.patterns.records))
	}
}

func TestHandleInboundDedupeStoreFailure(t *testing.T) {
	h := newHarness(false)
	h.dedupe.err = errors.New("connection refused")

	err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "hello"))
	if err == nil {
		t.Fatal("expected store error")
	}
	if !apperr.IsCode(err, apperr.CodeStoreUnavailable) {
		t.Errorf("error = %v, want STORE_UNAVAILABLE", err)
	}
}

func TestHandleInboundReleasesDedupeOnFailure(t *testing.T) {
	h := newHarness(false)
	h.setMatch(0.92, true, "We open at 9am daily.")
	h.sender.err = errors.New("stream down")

	err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "what time do you open"))
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if len(h.dedupe.forgotten) != 1 {
		t.Error("failed processing should release the dedupe mark for retry")
	}

	// Retry after the transport recovers succeeds.
	h.sender.err = nil
	if err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "what time do you open")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sent %d replies after retry, want 1", len(h.sender.sent))
	}
}

func TestHandleInboundShadowModeRecordsOnly(t *testing.T) {
	h := newHarness(true)
	h.setMatch(0.95, true, "We open at 9am daily.")

	if err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "what time do you open")); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(h.sender.sent) != 0 || len(h.reviews.enqueued) != 0 {
		t.Error("shadow mode must not act")
	}
	if len(h.shadow.records) != 1 || h.shadow.records[0] != domain.DecisionAutoExecute {
		t.Errorf("shadow records = %v, want one auto_execute", h.shadow.records)
	}
}

func TestOperatorTurnAfterDeclineFeedsLearner(t *testing.T) {
	h := newHarness(false)

	// Declined customer message first.
	if err := h.engine.HandleInbound(context.Background(), customerMsg("evt-1", "do you host kids birthday parties")); err != nil {
		t.Fatalf("customer turn: %v", err)
	}
	h.executions.recent = []*domain.ExecutionRecord{{
		ID:             1,
		ConversationID: "conv-1",
		EventID:        "evt-1",
		Decision:       domain.DecisionDeclined,
	}}

	op := &domain.InboundMessage{
		EventID:        "evt-2",
		ConversationID: "conv-1",
		Sender:         "operator",
		Text:           "Yes, parties can be booked through the events page.",
		ReceivedAt:     time.Now(),
	}
	if err := h.engine.HandleInbound(context.Background(), op); err != nil {
		t.Fatalf("operator turn: %v", err)
	}

	if len(h.learner.pairs) != 1 {
		t.Fatalf("learner got %d pairs, want 1", len(h.learner.pairs))
	}
	pair := h.learner.pairs[0]
	if pair[0] != "do you host kids birthday parties" {
		t.Errorf("question = %q", pair[0])
	}
	if pair[1] != "Yes, parties can be booked through the events page." {
		t.Errorf("answer = %q", pair[1])
	}
}

func TestOperatorCorrectionRejectsAutoReply(t *testing.T) {
	h := newHarness(false)
	patternID := int64(7)
	h.executions.recent = []*domain.ExecutionRecord{{
		ID:        1,
		Decision:  domain.DecisionAutoExecute,
		Outcome:   domain.OutcomeNone,
		PatternID: &patternID,
		CreatedAt: time.Now().Add(-time.Minute),
	}}

	op := &domain.InboundMessage{
		EventID:        "evt-2",
		ConversationID: "conv-1",
		Sender:         "operator",
		Text:           "Actually we open at 10am on Sundays.",
		ReceivedAt:     time.Now(),
	}
	if err := h.engine.HandleInbound(context.Background(), op); err != nil {
		t.Fatalf("operator turn: %v", err)
	}

	if len(h.learner.pairs) != 0 {
		t.Error("operator correction after auto-execute must not feed the learner")
	}
	if len(h.patterns.resolved) != 1 {
		t.Fatalf("resolved %d outcomes, want 1", len(h.patterns.resolved))
	}
	res := h.patterns.resolved[0]
	if res.outcome != domain.OutcomeRejected {
		t.Errorf("outcome = %s, want rejected", res.outcome)
	}
	if res.update == nil || !res.update.Rejected || res.update.PatternID != patternID {
		t.Errorf("update = %+v, want rejection for pattern %d", res.update, patternID)
	}
}

func TestOperatorCorrectionOutsideWindowIsIgnored(t *testing.T) {
	h := newHarness(false)
	patternID := int64(7)
	h.executions.recent = []*domain.ExecutionRecord{{
		ID:        1,
		Decision:  domain.DecisionAutoExecute,
		Outcome:   domain.OutcomeNone,
		PatternID: &patternID,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}}

	op := &domain.InboundMessage{
		EventID:        "evt-2",
		ConversationID: "conv-1",
		Sender:         "operator",
		Text:           "unrelated follow-up hours later",
		ReceivedAt:     time.Now(),
	}
	if err := h.engine.HandleInbound(context.Background(), op); err != nil {
		t.Fatalf("operator turn: %v", err)
	}
	if len(h.patterns.resolved) != 0 {
		t.Error("a late operator turn must not count as a correction")
	}
}

func TestCustomerTurnSettlesUncorrectedAutoReply(t *testing.T) {
	h := newHarness(false)
	patternID := int64(7)
	h.executions.recent = []*domain.ExecutionRecord{{
		ID:        1,
		Decision:  domain.DecisionAutoExecute,
		Outcome:   domain.OutcomeNone,
		PatternID: &patternID,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}}

	if err := h.engine.HandleInbound(context.Background(), customerMsg("evt-2", "thanks, one more question")); err != nil {
		t.Fatalf("customer turn: %v", err)
	}

	if len(h.patterns.resolved) != 1 {
		t.Fatalf("resolved %d outcomes, want 1", len(h.patterns.resolved))
	}
	res := h.patterns.resolved[0]
	if res.outcome != domain.OutcomeAccepted {
		t.Errorf("outcome = %s, want accepted", res.outcome)
	}
	if res.update == nil || !res.update.Accepted || res.update.PatternID != patternID {
		t.Errorf("update = %+v, want acceptance for pattern %d", res.update, patternID)
	}
}
