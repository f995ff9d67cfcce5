package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clubhousegolfcanada/response-engine/config"
	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

// PatternService owns curated pattern management: operator CRUD and bulk
// import. Learned patterns come in through the learner instead.
type PatternService struct {
	patterns out.PatternRepository
	provider out.EmbeddingProvider
	log      zerolog.Logger
}

func NewPatternService(patterns out.PatternRepository, provider out.EmbeddingProvider, log zerolog.Logger) *PatternService {
	return &PatternService{
		patterns: patterns,
		provider: provider,
		log:      log.With().Str("component", "pattern_service").Logger(),
	}
}

// PatternSpec is one pattern definition as submitted by an operator.
type PatternSpec struct {
	Name            string   `json:"name"`
	Category        string   `json:"category"`
	TriggerExamples []string `json:"trigger_examples"`
	RequiredTerms   []string `json:"required_terms,omitempty"`
	ForbiddenTerms  []string `json:"forbidden_terms,omitempty"`
	Template        string   `json:"template"`
	ActionKind      string   `json:"action_kind,omitempty"`
	AutoExecutable  bool     `json:"auto_executable"`
	SafetyTags      []string `json:"safety_tags,omitempty"`
}

// ImportFailure describes one rejected entry of a bulk import.
type ImportFailure struct {
	Index  int    `json:"index"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Imported int             `json:"imported"`
	Failed   []ImportFailure `json:"failed,omitempty"`
}

// Create validates, embeds and stores one pattern.
func (s *PatternService) Create(ctx context.Context, spec *PatternSpec) (*domain.Pattern, error) {
	p, err := s.build(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := s.patterns.Upsert(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info().
		Int64("pattern_id", p.ID).
		Str("name", p.Name).
		Str("category", p.Category).
		Msg("pattern stored")
	return p, nil
}

// Import stores a batch of pattern specs. Entries are independent: a bad
// entry is reported and skipped, the rest still import. Re-importing the
// same batch is a no-op thanks to the (category, name) upsert key.
func (s *PatternService) Import(ctx context.Context, specs []*PatternSpec) (*ImportResult, error) {
	result := &ImportResult{}
	for i, spec := range specs {
		if _, err := s.Create(ctx, spec); err != nil {
			result.Failed = append(result.Failed, ImportFailure{
				Index:  i,
				Name:   spec.Name,
				Reason: err.Error(),
			})
			continue
		}
		result.Imported++
	}
	s.log.Info().
		Int("imported", result.Imported).
		Int("failed", len(result.Failed)).
		Msg("bulk import finished")
	return result, nil
}

func (s *PatternService) Get(ctx context.Context, id int64) (*domain.Pattern, error) {
	return s.patterns.GetByID(ctx, id)
}

func (s *PatternService) List(ctx context.Context, category string, limit, offset int) ([]*domain.Pattern, int, error) {
	return s.patterns.List(ctx, category, limit, offset)
}

func (s *PatternService) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := s.patterns.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	s.log.Info().Int64("pattern_id", id).Bool("enabled", enabled).Msg("pattern toggled")
	return nil
}

// build turns a spec into a validated, embedded domain pattern. An
// unavailable embedding provider does not block the import; the pattern
// stores without a vector and participates in lexical matching until a
// later write refreshes it.
func (s *PatternService) build(ctx context.Context, spec *PatternSpec) (*domain.Pattern, error) {
	actionKind := domain.ActionKind(spec.ActionKind)
	if actionKind == "" {
		actionKind = domain.ActionSendReply
	}

	now := time.Now().UTC()
	p := &domain.Pattern{
		Name:            spec.Name,
		Category:        spec.Category,
		TriggerExamples: spec.TriggerExamples,
		RequiredTerms:   spec.RequiredTerms,
		ForbiddenTerms:  spec.ForbiddenTerms,
		Template:        spec.Template,
		ActionKind:      actionKind,
		Confidence:      config.CurrentPolicy().SeedConfidence,
		Enabled:         true,
		AutoExecutable:  spec.AutoExecutable,
		SafetyTags:      spec.SafetyTags,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.Validate(); err != nil {
		return nil, apperr.InvalidInput("pattern", err.Error())
	}

	embedding, err := s.provider.Embed(ctx, p.TriggerText())
	if err != nil {
		s.log.Warn().Err(err).Str("name", p.Name).Msg("storing pattern without embedding")
	} else {
		p.Embedding = embedding
	}
	return p, nil
}

// Summary wraps the analytics aggregate with a human-readable window.
type Summary struct {
	Since   string                   `json:"since"`
	Window  string                   `json:"window"`
	Metrics *domain.ExecutionSummary `json:"metrics"`
}

// AnalyticsService reads the execution audit trail.
type AnalyticsService struct {
	executions out.ExecutionRepository
}

func NewAnalyticsService(executions out.ExecutionRepository) *AnalyticsService {
	return &AnalyticsService{executions: executions}
}

// Summarize aggregates decisions and outcomes over the trailing window.
func (s *AnalyticsService) Summarize(ctx context.Context, window time.Duration) (*Summary, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := time.Now().UTC().Add(-window)
	metrics, err := s.executions.Summary(ctx, since)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Since:   since.Format(time.RFC3339),
		Window:  window.String(),
		Metrics: metrics,
	}, nil
}
