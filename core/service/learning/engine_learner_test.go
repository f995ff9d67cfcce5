package learning

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

// ============================================
// Fakes
// ============================================

type fakePatternRepo struct {
	out.PatternRepository
	candidates  []*domain.Pattern
	upserted    []*domain.Pattern
	appended    []string
	appendedVec [][]float32
}

func (f *fakePatternRepo) GetCandidates(_ context.Context, _ *domain.InboundMessage, _ []float32, _ int) ([]*domain.Pattern, error) {
	return f.candidates, nil
}

func (f *fakePatternRepo) GetByID(_ context.Context, id int64) (*domain.Pattern, error) {
	for _, p := range f.candidates {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, apperr.NotFound("pattern")
}

func (f *fakePatternRepo) Upsert(_ context.Context, p *domain.Pattern) error {
	p.ID = int64(len(f.upserted) + 1)
	f.upserted = append(f.upserted, p)
	return nil
}

func (f *fakePatternRepo) AppendTriggerExample(_ context.Context, _ int64, example string, embedding []float32) error {
	f.appended = append(f.appended, example)
	f.appendedVec = append(f.appendedVec, embedding)
	return nil
}

type fakeProvider struct {
	embedding  []float32
	embedErr   error
	batchErr   error
	batchCalls [][]string
	gen        *out.Generalization
	genErr     error
}

func (f *fakeProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.embedding, f.embedErr
}

func (f *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batchCalls = append(f.batchCalls, texts)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = f.embedding
	}
	return vectors, nil
}

func (f *fakeProvider) Generalize(_ context.Context, _, _ string) (*out.Generalization, error) {
	return f.gen, f.genErr
}

type fakeNotifier struct {
	created []int64
}

func (f *fakeNotifier) NotifyQueued(_ context.Context, _, _ string, _ *int64, _ float64) error {
	return nil
}

func (f *fakeNotifier) NotifyPatternCreated(_ context.Context, patternID int64, _ string) error {
	f.created = append(f.created, patternID)
	return nil
}

func existingPattern(id int64, embedding []float32) *domain.Pattern {
	return &domain.Pattern{
		ID:              id,
		Name:            "hours",
		Category:        "general",
		TriggerExamples: []string{"what time do you open"},
		Embedding:       embedding,
		Template:        "We open at 9am daily.",
		ActionKind:      domain.ActionSendReply,
		Confidence:      0.7,
		Enabled:         true,
	}
}

// ============================================
// Tests
// ============================================

func TestLearnFromReplyReinforcesCloseMatch(t *testing.T) {
	// Identical embedding: similarity 1.0, far above the reinforce threshold.
	repo := &fakePatternRepo{candidates: []*domain.Pattern{existingPattern(1, []float32{1, 0, 0})}}
	provider := &fakeProvider{embedding: []float32{1, 0, 0}}
	notifier := &fakeNotifier{}
	l := NewLearner(repo, provider, notifier, zerolog.Nop())

	err := l.LearnFromReply(context.Background(), "when are you open today", "We open at 9am daily.", "general")
	if err != nil {
		t.Fatalf("LearnFromReply: %v", err)
	}
	if len(repo.appended) != 1 || repo.appended[0] != "when are you open today" {
		t.Errorf("appended = %v, want the new trigger example", repo.appended)
	}
	if len(repo.upserted) != 0 {
		t.Errorf("reinforce must not create a pattern, upserted %d", len(repo.upserted))
	}
	if len(notifier.created) != 0 {
		t.Errorf("reinforce must not notify a creation")
	}
	if len(provider.batchCalls) != 1 {
		t.Fatalf("EmbedBatch called %d times, want 1", len(provider.batchCalls))
	}
	wantTexts := []string{"what time do you open", "when are you open today"}
	if got := provider.batchCalls[0]; len(got) != len(wantTexts) || got[0] != wantTexts[0] || got[1] != wantTexts[1] {
		t.Errorf("EmbedBatch texts = %v, want %v", got, wantTexts)
	}
	if vec := repo.appendedVec[0]; len(vec) != 3 || vec[0] != 1 {
		t.Errorf("stored embedding = %v, want the example centroid", vec)
	}
}

func TestLearnFromReplyNeverReinforcesAcrossCategories(t *testing.T) {
	// The lone nearby pattern lives in another category; even a perfect
	// similarity must not pull the example into it.
	foreign := existingPattern(1, []float32{1, 0, 0})
	foreign.Category = "pricing"
	repo := &fakePatternRepo{candidates: []*domain.Pattern{foreign}}
	provider := &fakeProvider{embedding: []float32{1, 0, 0}, genErr: errors.New("skip")}
	l := NewLearner(repo, provider, &fakeNotifier{}, zerolog.Nop())

	err := l.LearnFromReply(context.Background(), "what time do you open", "We open at 9am daily.", "general")
	if err != nil {
		t.Fatalf("LearnFromReply: %v", err)
	}
	if len(repo.appended) != 0 {
		t.Errorf("reinforced a foreign-category pattern: %v", repo.appended)
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("upserted %d patterns, want a new general pattern", len(repo.upserted))
	}
	if got := repo.upserted[0].Category; got != "general" {
		t.Errorf("category = %q, want general", got)
	}
}

func TestReinforceKeepsStoredVectorOnBatchFailure(t *testing.T) {
	stored := []float32{1, 0, 0}
	repo := &fakePatternRepo{candidates: []*domain.Pattern{existingPattern(1, stored)}}
	provider := &fakeProvider{
		embedding: []float32{1, 0, 0},
		batchErr:  apperr.ProviderUnavailable("embed_batch", errors.New("down")),
	}
	l := NewLearner(repo, provider, &fakeNotifier{}, zerolog.Nop())

	if err := l.LearnFromReply(context.Background(), "when are you open today", "We open at 9am daily.", "general"); err != nil {
		t.Fatalf("LearnFromReply: %v", err)
	}
	if len(repo.appended) != 1 {
		t.Fatalf("appended %d examples, want 1", len(repo.appended))
	}
	if vec := repo.appendedVec[0]; len(vec) != len(stored) || vec[0] != stored[0] {
		t.Errorf("stored embedding = %v, want the prior vector kept", vec)
	}
}

func TestLearnFromReplyProposesNewPattern(t *testing.T) {
	// Orthogonal embedding: similarity 0, below the reinforce threshold.
	repo := &fakePatternRepo{candidates: []*domain.Pattern{existingPattern(1, []float32{1, 0, 0})}}
	provider := &fakeProvider{
		embedding: []float32{0, 1, 0},
		gen: &out.Generalization{
			Template:   "Your trial ends on {{end_date}}.",
			Slots:      []string{"end_date"},
			Confidence: 0.9,
		},
	}
	notifier := &fakeNotifier{}
	l := NewLearner(repo, provider, notifier, zerolog.Nop())

	err := l.LearnFromReply(context.Background(), "when does my trial end", "Your trial ends on March 3rd.", "billing")
	if err != nil {
		t.Fatalf("LearnFromReply: %v", err)
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("upserted %d patterns, want 1", len(repo.upserted))
	}

	p := repo.upserted[0]
	if p.AutoExecutable {
		t.Error("proposed pattern must not be auto-executable")
	}
	if p.Confidence != 0.3 {
		t.Errorf("confidence = %.2f, want seed 0.3", p.Confidence)
	}
	if p.Template != "Your trial ends on {{end_date}}." {
		t.Errorf("template = %q, want the generalized form", p.Template)
	}
	if p.Category != "billing" {
		t.Errorf("category = %q, want billing", p.Category)
	}
	if len(p.TriggerExamples) != 1 || p.TriggerExamples[0] != "when does my trial end" {
		t.Errorf("trigger examples = %v", p.TriggerExamples)
	}
	if len(notifier.created) != 1 || notifier.created[0] != p.ID {
		t.Errorf("creation notification = %v, want [%d]", notifier.created, p.ID)
	}
}

func TestLearnFromReplyLiteralFallbackOnProviderFailure(t *testing.T) {
	repo := &fakePatternRepo{}
	provider := &fakeProvider{
		embedding: []float32{0, 1, 0},
		genErr:    apperr.ProviderUnavailable("generalize", errors.New("timeout")),
	}
	l := NewLearner(repo, provider, &fakeNotifier{}, zerolog.Nop())

	err := l.LearnFromReply(context.Background(), "when does my trial end", "Your trial ends on March 3rd.", "billing")
	if err != nil {
		t.Fatalf("LearnFromReply: %v", err)
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("upserted %d patterns, want 1", len(repo.upserted))
	}
	if got := repo.upserted[0].Template; got != "Your trial ends on March 3rd." {
		t.Errorf("template = %q, want the literal reply", got)
	}
}

func TestLearnFromReplyLiteralFallbackBelowFloor(t *testing.T) {
	repo := &fakePatternRepo{}
	provider := &fakeProvider{
		embedding: []float32{0, 1, 0},
		gen:       &out.Generalization{Template: "{{x}}", Confidence: 0.2}, // below 0.6 floor
	}
	l := NewLearner(repo, provider, &fakeNotifier{}, zerolog.Nop())

	if err := l.LearnFromReply(context.Background(), "odd question", "A literal answer.", "general"); err != nil {
		t.Fatalf("LearnFromReply: %v", err)
	}
	if got := repo.upserted[0].Template; got != "A literal answer." {
		t.Errorf("template = %q, want the literal reply", got)
	}
}

func TestLearnFromReplySkipsWhenEmbeddingUnavailable(t *testing.T) {
	repo := &fakePatternRepo{}
	provider := &fakeProvider{embedErr: apperr.ProviderUnavailable("embed", errors.New("down"))}
	l := NewLearner(repo, provider, &fakeNotifier{}, zerolog.Nop())

	if err := l.LearnFromReply(context.Background(), "question", "answer", "general"); err != nil {
		t.Fatalf("LearnFromReply should degrade silently: %v", err)
	}
	if len(repo.upserted) != 0 || len(repo.appended) != 0 {
		t.Error("no learning should happen without an embedding")
	}
}

func TestObserveResolutionOnlyLearnsFromEdits(t *testing.T) {
	repo := &fakePatternRepo{}
	provider := &fakeProvider{embedding: []float32{0, 1, 0}, genErr: errors.New("skip")}
	l := NewLearner(repo, provider, &fakeNotifier{}, zerolog.Nop())

	item := &domain.ReviewItem{ID: "r1", MessageText: "how do I rebook"}

	if err := l.ObserveResolution(context.Background(), item, domain.OutcomeAccepted, "reply"); err != nil {
		t.Fatalf("ObserveResolution: %v", err)
	}
	if len(repo.upserted) != 0 {
		t.Error("accept must not trigger learning")
	}

	if err := l.ObserveResolution(context.Background(), item, domain.OutcomeEdited, "Use the app's rebook button."); err != nil {
		t.Fatalf("ObserveResolution: %v", err)
	}
	if len(repo.upserted) != 1 {
		t.Errorf("edit should propose a pattern, upserted %d", len(repo.upserted))
	}
}

func TestObserveResolutionScopesToCandidateCategory(t *testing.T) {
	pricing := existingPattern(3, []float32{1, 0, 0})
	pricing.Category = "pricing"
	repo := &fakePatternRepo{candidates: []*domain.Pattern{pricing}}
	provider := &fakeProvider{embedding: []float32{1, 0, 0}}
	l := NewLearner(repo, provider, &fakeNotifier{}, zerolog.Nop())

	id := pricing.ID
	item := &domain.ReviewItem{ID: "r2", MessageText: "how much is a lane", PatternID: &id}

	if err := l.ObserveResolution(context.Background(), item, domain.OutcomeEdited, "Lanes are $40 an hour."); err != nil {
		t.Fatalf("ObserveResolution: %v", err)
	}
	// Learning runs in the candidate's category, so the nearby pricing
	// pattern is reinforced instead of a general one being proposed.
	if len(repo.appended) != 1 {
		t.Fatalf("appended %d examples, want 1", len(repo.appended))
	}
	if len(repo.upserted) != 0 {
		t.Errorf("upserted %d patterns, want 0", len(repo.upserted))
	}
}

func TestSlugFromText(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"when does my trial end", "when-trial-end"},
		{"what are your pricing plans?", "what-pricing-plans"},
		{"the a an i", "untitled"},
		{"", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := slugFromText(tt.text, 4); got != tt.want {
				t.Errorf("slugFromText(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
