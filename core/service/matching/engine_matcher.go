// Package matching scores inbound messages against the stored pattern set.
// Scoring blends a lexical token-overlap signal with embedding similarity;
// when the embedding provider is down the matcher degrades to lexical-only
// and flags the result so downstream policy never auto-executes on it.
package matching

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/config"
	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
)

const defaultCandidateLimit = 50

type Matcher struct {
	patterns out.PatternRepository
	provider out.EmbeddingProvider
	log      zerolog.Logger
}

func NewMatcher(patterns out.PatternRepository, provider out.EmbeddingProvider, log zerolog.Logger) *Matcher {
	return &Matcher{
		patterns: patterns,
		provider: provider,
		log:      log.With().Str("component", "matcher").Logger(),
	}
}

// Match scores the message against all eligible patterns and returns them
// ranked by combined score. The message is embedded exactly once; every
// candidate is compared against that one vector.
func (m *Matcher) Match(ctx context.Context, msg *domain.InboundMessage) (*domain.MatchResult, error) {
	result := &domain.MatchResult{}

	embedding, err := m.provider.Embed(ctx, msg.Text)
	if err != nil {
		// Provider down: degrade to lexical-only scoring.
		m.log.Warn().
			Err(err).
			Str("event_id", msg.EventID).
			Msg("embedding unavailable, degrading to lexical matching")
		result.Degraded = true
		embedding = nil
	}

	candidates, err := m.patterns.GetCandidates(ctx, msg, embedding, defaultCandidateLimit)
	if err != nil {
		return nil, err
	}

	policy := config.CurrentPolicy()
	messageTokens := Tokenize(msg.Text)

	for _, p := range candidates {
		c, ok := m.score(p, messageTokens, embedding, result.Degraded, policy)
		if !ok {
			continue
		}
		result.Candidates = append(result.Candidates, c)
	}

	// Rank by combined score; break ties by pattern confidence, then by
	// most recently used, so ordering stays deterministic.
	sort.SliceStable(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.Pattern.Confidence != b.Pattern.Confidence {
			return a.Pattern.Confidence > b.Pattern.Confidence
		}
		au, bu := a.Pattern.LastUsedAt, b.Pattern.LastUsedAt
		switch {
		case au == nil:
			return false
		case bu == nil:
			return true
		default:
			return au.After(*bu)
		}
	})

	return result, nil
}

// score evaluates one pattern against the message. Returns ok=false when a
// hard constraint excludes the pattern entirely.
func (m *Matcher) score(p *domain.Pattern, messageTokens map[string]struct{}, embedding []float32, degraded bool, policy config.PolicyConfig) (domain.MatchCandidate, bool) {
	// Hard constraints first: any forbidden term excludes the pattern
	// regardless of how well it scores, and every required term must be
	// present.
	for _, term := range p.ForbiddenTerms {
		if ContainsTerm(messageTokens, term) {
			return domain.MatchCandidate{}, false
		}
	}
	for _, term := range p.RequiredTerms {
		if !ContainsTerm(messageTokens, term) {
			return domain.MatchCandidate{}, false
		}
	}

	c := domain.MatchCandidate{
		Pattern:      p,
		LexicalScore: LexicalScore(messageTokens, p.TriggerExamples),
	}

	if degraded || embedding == nil || len(p.Embedding) == 0 {
		// Lexical-only: the lexical score stands in for the blend rather
		// than being scaled by its weight, so degraded scores stay
		// comparable against QueueFloor.
		c.CombinedScore = c.LexicalScore
		return c, true
	}

	c.SemanticScore = CosineSimilarity(embedding, p.Embedding)
	c.CombinedScore = policy.LexicalWeight*c.LexicalScore + policy.SemanticWeight*c.SemanticScore
	return c, true
}

// CosineSimilarity computes cosine similarity between two vectors, clamped
// to [0,1]. Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
