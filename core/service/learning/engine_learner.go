// Package learning grows and refines the pattern set from operator
// behavior: edited review verdicts and operator replies the engine could
// not handle itself.
package learning

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/config"
	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
	"github.com/clubhousegolfcanada/response-engine/core/service/matching"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

const candidateLimit = 5

type Learner struct {
	patterns out.PatternRepository
	provider out.EmbeddingProvider
	notifier out.Notifier
	log      zerolog.Logger
}

func NewLearner(patterns out.PatternRepository, provider out.EmbeddingProvider, notifier out.Notifier, log zerolog.Logger) *Learner {
	return &Learner{
		patterns: patterns,
		provider: provider,
		notifier: notifier,
		log:      log.With().Str("component", "learner").Logger(),
	}
}

// ObserveResolution receives resolved review items. Only edits teach
// anything new: the operator's corrected text for a known trigger. The
// candidate pattern's category scopes the learning; an item with no
// candidate learns into the general category.
func (l *Learner) ObserveResolution(ctx context.Context, item *domain.ReviewItem, outcome domain.Outcome, finalReply string) error {
	if outcome != domain.OutcomeEdited || finalReply == "" {
		return nil
	}
	category := "general"
	if item.PatternID != nil {
		if p, err := l.patterns.GetByID(ctx, *item.PatternID); err == nil && p != nil {
			category = p.Category
		}
	}
	return l.LearnFromReply(ctx, item.MessageText, finalReply, category)
}

// LearnFromReply folds one (customer message, operator reply) pair into the
// pattern set. A strong semantic match against an existing pattern
// reinforces it with a new trigger example; otherwise a new pattern is
// proposed. Proposed patterns start disabled from auto-execution at seed
// confidence, so they queue for review until they earn promotion.
func (l *Learner) LearnFromReply(ctx context.Context, messageText, replyText, category string) error {
	if messageText == "" || replyText == "" {
		return nil
	}

	policy := config.CurrentPolicy()

	embedding, err := l.provider.Embed(ctx, messageText)
	if err != nil {
		// No embedding means no reliable reinforce/propose split; learning
		// waits for the next signal rather than guessing.
		l.log.Warn().Err(err).Msg("skipping learning, embedding unavailable")
		return nil
	}

	msg := &domain.InboundMessage{Text: messageText}
	candidates, err := l.patterns.GetCandidates(ctx, msg, embedding, candidateLimit)
	if err != nil {
		return err
	}

	if best := closestBySimilarity(candidates, embedding, category); best != nil {
		if sim := matching.CosineSimilarity(embedding, best.Embedding); sim >= policy.ReinforceThreshold {
			return l.reinforce(ctx, best, messageText, embedding, sim)
		}
	}

	return l.propose(ctx, messageText, replyText, category, embedding, policy)
}

func (l *Learner) reinforce(ctx context.Context, p *domain.Pattern, example string, embedding []float32, similarity float64) error {
	merged := append(append([]string{}, p.TriggerExamples...), example)
	mergedEmbedding := p.Embedding
	if vectors, err := l.provider.EmbedBatch(ctx, merged); err != nil {
		// Keep the old embedding rather than dropping the example.
		l.log.Warn().Err(err).Int64("pattern_id", p.ID).Msg("re-embedding unavailable, keeping stored vector")
	} else if centroid := meanVector(vectors); centroid != nil {
		mergedEmbedding = centroid
	}
	if err := l.patterns.AppendTriggerExample(ctx, p.ID, example, mergedEmbedding); err != nil {
		return err
	}
	l.log.Info().
		Int64("pattern_id", p.ID).
		Float64("similarity", similarity).
		Msg("reinforced pattern with new trigger example")
	return nil
}

func (l *Learner) propose(ctx context.Context, messageText, replyText, category string, embedding []float32, policy config.PolicyConfig) error {
	template := replyText
	gen, err := l.provider.Generalize(ctx, replyText, category)
	switch {
	case err != nil:
		l.log.Warn().Err(err).Msg("generalization unavailable, keeping literal template")
	case gen.Confidence < policy.GeneralizeFloor:
		l.log.Debug().
			Float64("confidence", gen.Confidence).
			Msg("generalization below floor, keeping literal template")
	case gen.Template != "":
		template = gen.Template
	}

	now := time.Now().UTC()
	p := &domain.Pattern{
		Name:            slugFromText(messageText, 4),
		Category:        category,
		TriggerExamples: []string{messageText},
		Embedding:       embedding,
		Template:        template,
		ActionKind:      domain.ActionSendReply,
		Confidence:      policy.SeedConfidence,
		Enabled:         true,
		AutoExecutable:  false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.Validate(); err != nil {
		return apperr.InvalidInput("pattern", err.Error())
	}
	if err := l.patterns.Upsert(ctx, p); err != nil {
		return err
	}

	l.log.Info().
		Int64("pattern_id", p.ID).
		Str("name", p.Name).
		Str("category", p.Category).
		Msg("proposed new pattern")

	if err := l.notifier.NotifyPatternCreated(ctx, p.ID, p.Category); err != nil {
		l.log.Warn().Err(err).Int64("pattern_id", p.ID).Msg("pattern-created notification failed")
	}
	return nil
}

// closestBySimilarity returns the candidate in the category whose stored
// embedding is most similar to the query vector. Reinforcement never crosses
// categories: a nearby pattern from another category is ignored so the pair
// proposes a new pattern instead.
func closestBySimilarity(candidates []*domain.Pattern, embedding []float32, category string) *domain.Pattern {
	var best *domain.Pattern
	bestSim := -1.0
	for _, p := range candidates {
		if len(p.Embedding) == 0 || !strings.EqualFold(p.Category, category) {
			continue
		}
		if sim := matching.CosineSimilarity(embedding, p.Embedding); sim > bestSim {
			bestSim = sim
			best = p
		}
	}
	return best
}

// meanVector averages equal-length vectors into a centroid.
func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float32, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil
		}
		for i, f := range v {
			sum[i] += f
		}
	}
	n := float32(len(vectors))
	for i := range sum {
		sum[i] /= n
	}
	return sum
}
