package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/port/out"
	"github.com/clubhousegolfcanada/response-engine/core/service/policy"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

// PatternAdapter implements out.PatternRepository on PostgreSQL with
// pgvector. Pattern statistics only move inside transactions that row-lock
// the pattern, so concurrent outcomes serialize instead of losing updates.
type PatternAdapter struct {
	db *pgxpool.Pool
}

func NewPatternAdapter(db *pgxpool.Pool) *PatternAdapter {
	return &PatternAdapter{db: db}
}

const patternColumns = `
	id, name, category, trigger_examples, embedding::text,
	required_terms, forbidden_terms, template, action_kind,
	execution_count, accepted_count, rejected_count, confidence, last_used_at,
	enabled, auto_executable, safety_tags, created_at, updated_at`

// GetCandidates returns enabled patterns for matching. With an embedding
// the shortlist is ordered by vector distance; without one (degraded mode)
// it falls back to confidence order. Either way only `limit` patterns come
// back, which bounds matching cost per message.
func (a *PatternAdapter) GetCandidates(ctx context.Context, _ *domain.InboundMessage, embedding []float32, limit int) ([]*domain.Pattern, error) {
	var rows pgx.Rows
	var err error

	if len(embedding) > 0 {
		query := `
			SELECT ` + patternColumns + `
			FROM patterns
			WHERE enabled = true
			ORDER BY embedding <=> $1
			LIMIT $2`
		rows, err = a.db.Query(ctx, query, pgVector(embedding), limit)
	} else {
		query := `
			SELECT ` + patternColumns + `
			FROM patterns
			WHERE enabled = true
			ORDER BY confidence DESC, id
			LIMIT $1`
		rows, err = a.db.Query(ctx, query, limit)
	}
	if err != nil {
		return nil, apperr.StoreUnavailable("pattern_candidates", err)
	}
	defer rows.Close()

	return scanPatterns(rows)
}

// Upsert creates or replaces a pattern keyed on (category, name). The
// statistic columns are left alone on conflict so a re-import never resets
// learned confidence.
func (a *PatternAdapter) Upsert(ctx context.Context, p *domain.Pattern) error {
	query := `
		INSERT INTO patterns (
			name, category, trigger_examples, embedding,
			required_terms, forbidden_terms, template, action_kind,
			confidence, enabled, auto_executable, safety_tags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (category, name) DO UPDATE SET
			trigger_examples = EXCLUDED.trigger_examples,
			embedding = EXCLUDED.embedding,
			required_terms = EXCLUDED.required_terms,
			forbidden_terms = EXCLUDED.forbidden_terms,
			template = EXCLUDED.template,
			action_kind = EXCLUDED.action_kind,
			safety_tags = EXCLUDED.safety_tags,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := a.db.QueryRow(ctx, query,
		p.Name, p.Category, p.TriggerExamples, nullableVector(p.Embedding),
		p.RequiredTerms, p.ForbiddenTerms, p.Template, string(p.ActionKind),
		p.Confidence, p.Enabled, p.AutoExecutable, p.SafetyTags,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return apperr.StoreUnavailable("pattern_upsert", err)
	}
	return nil
}

func (a *PatternAdapter) GetByID(ctx context.Context, id int64) (*domain.Pattern, error) {
	query := `SELECT ` + patternColumns + ` FROM patterns WHERE id = $1`

	rows, err := a.db.Query(ctx, query, id)
	if err != nil {
		return nil, apperr.StoreUnavailable("pattern_get", err)
	}
	defer rows.Close()

	patterns, err := scanPatterns(rows)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, apperr.NotFound("pattern")
	}
	return patterns[0], nil
}

func (a *PatternAdapter) List(ctx context.Context, category string, limit, offset int) ([]*domain.Pattern, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM patterns WHERE ($1 = '' OR category = $1)`
	if err := a.db.QueryRow(ctx, countQuery, category).Scan(&total); err != nil {
		return nil, 0, apperr.StoreUnavailable("pattern_list", err)
	}

	query := `
		SELECT ` + patternColumns + `
		FROM patterns
		WHERE ($1 = '' OR category = $1)
		ORDER BY category, name
		LIMIT $2 OFFSET $3`

	rows, err := a.db.Query(ctx, query, category, limit, offset)
	if err != nil {
		return nil, 0, apperr.StoreUnavailable("pattern_list", err)
	}
	defer rows.Close()

	patterns, err := scanPatterns(rows)
	if err != nil {
		return nil, 0, err
	}
	return patterns, total, nil
}

func (a *PatternAdapter) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := a.db.Exec(ctx,
		`UPDATE patterns SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
	if err != nil {
		return apperr.StoreUnavailable("pattern_set_enabled", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("pattern")
	}
	return nil
}

func (a *PatternAdapter) AppendTriggerExample(ctx context.Context, id int64, example string, embedding []float32) error {
	tag, err := a.db.Exec(ctx, `
		UPDATE patterns
		SET trigger_examples = array_append(trigger_examples, $1),
		    embedding = $2,
		    updated_at = NOW()
		WHERE id = $3`,
		example, nullableVector(embedding), id)
	if err != nil {
		return apperr.StoreUnavailable("pattern_append_example", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("pattern")
	}
	return nil
}

// PromoteAutoExecutable flips auto_executable when the thresholds are met.
// The guard lives in the WHERE clause, so the check and the flip are one
// atomic statement.
func (a *PatternAdapter) PromoteAutoExecutable(ctx context.Context, id int64, minExecutions int, minConfidence float64) (bool, error) {
	tag, err := a.db.Exec(ctx, `
		UPDATE patterns
		SET auto_executable = true, updated_at = NOW()
		WHERE id = $1
		  AND auto_executable = false
		  AND execution_count >= $2
		  AND confidence >= $3`,
		id, minExecutions, minConfidence)
	if err != nil {
		return false, apperr.StoreUnavailable("pattern_promote", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordExecution appends the audit record and applies the statistic delta
// in one transaction.
func (a *PatternAdapter) RecordExecution(ctx context.Context, rec *domain.ExecutionRecord, update *out.StatUpdate) error {
	return a.inTx(ctx, "record_execution", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO execution_records (
				id, pattern_id, conversation_id, event_id,
				decision, outcome, score, degraded, shadow, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.PatternID, rec.ConversationID, rec.EventID,
			string(rec.Decision), string(rec.Outcome), rec.Score,
			rec.Degraded, rec.Shadow, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert execution record: %w", err)
		}
		if update != nil {
			return applyStatUpdate(ctx, tx, update)
		}
		return nil
	})
}

// ResolveOutcome appends a resolution row for an execution record and
// applies the statistic delta. The decision row itself stays immutable.
func (a *PatternAdapter) ResolveOutcome(ctx context.Context, executionID int64, outcome domain.Outcome, update *out.StatUpdate) error {
	return a.inTx(ctx, "resolve_outcome", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO execution_resolutions (execution_id, outcome, created_at)
			VALUES ($1, $2, NOW())`,
			executionID, string(outcome))
		if err != nil {
			return fmt.Errorf("insert resolution: %w", err)
		}
		if update != nil {
			return applyStatUpdate(ctx, tx, update)
		}
		return nil
	})
}

// applyStatUpdate row-locks the pattern, recomputes counters and the EMA
// confidence in Go, and writes the new values back.
func applyStatUpdate(ctx context.Context, tx pgx.Tx, update *out.StatUpdate) error {
	var executions, accepted, rejected int
	var confidence float64

	err := tx.QueryRow(ctx, `
		SELECT execution_count, accepted_count, rejected_count, confidence
		FROM patterns
		WHERE id = $1
		FOR UPDATE`, update.PatternID).
		Scan(&executions, &accepted, &rejected, &confidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("pattern")
	}
	if err != nil {
		return fmt.Errorf("lock pattern: %w", err)
	}

	if update.CountExec {
		executions++
	}
	if update.Accepted {
		accepted++
		confidence = policy.NextConfidence(confidence, 1, update.LearningRate)
	}
	if update.Rejected {
		rejected++
		confidence = policy.NextConfidence(confidence, 0, update.LearningRate)
	}

	lastUsed := "last_used_at"
	if update.TouchUsed {
		lastUsed = "NOW()"
	}
	query := fmt.Sprintf(`
		UPDATE patterns
		SET execution_count = $1,
		    accepted_count = $2,
		    rejected_count = $3,
		    confidence = $4,
		    last_used_at = %s,
		    updated_at = NOW()
		WHERE id = $5`, lastUsed)

	if _, err := tx.Exec(ctx, query, executions, accepted, rejected, confidence, update.PatternID); err != nil {
		return fmt.Errorf("update pattern stats: %w", err)
	}
	return nil
}

const conflictRetryDelay = 25 * time.Millisecond

// inTx runs fn in a transaction. A serialization failure under concurrent
// stat updates is retried once after a short backoff; a second failure
// surfaces as PATTERN_CONFLICT for upstream redelivery.
func (a *PatternAdapter) inTx(ctx context.Context, operation string, fn func(tx pgx.Tx) error) error {
	return withConflictRetry(ctx, conflictRetryDelay, func() error {
		return a.runTx(ctx, operation, fn)
	})
}

// withConflictRetry runs attempt, retrying once after delay when it fails
// with PATTERN_CONFLICT. Any other error returns immediately.
func withConflictRetry(ctx context.Context, delay time.Duration, attempt func() error) error {
	err := attempt()
	if err == nil || !apperr.IsCode(err, apperr.CodePatternConflict) {
		return err
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(delay):
	}
	return attempt()
}

func (a *PatternAdapter) runTx(ctx context.Context, operation string, fn func(tx pgx.Tx) error) error {
	tx, err := a.db.Begin(ctx)
	if err != nil {
		return apperr.StoreUnavailable(operation, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		if apperr.IsAppError(err) {
			return err
		}
		if isSerializationFailure(err) {
			return apperr.PatternConflict(0, err)
		}
		return apperr.StoreUnavailable(operation, err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return apperr.PatternConflict(0, err)
		}
		return apperr.StoreUnavailable(operation, err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

// ============================================
// Row scanning
// ============================================

func scanPatterns(rows pgx.Rows) ([]*domain.Pattern, error) {
	var patterns []*domain.Pattern
	for rows.Next() {
		var p domain.Pattern
		var embedding *string
		var actionKind string
		var lastUsed *time.Time

		err := rows.Scan(
			&p.ID, &p.Name, &p.Category, &p.TriggerExamples, &embedding,
			&p.RequiredTerms, &p.ForbiddenTerms, &p.Template, &actionKind,
			&p.ExecutionCount, &p.AcceptedCount, &p.RejectedCount, &p.Confidence, &lastUsed,
			&p.Enabled, &p.AutoExecutable, &p.SafetyTags, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, apperr.StoreUnavailable("pattern_scan", err)
		}

		p.ActionKind = domain.ActionKind(actionKind)
		p.LastUsedAt = lastUsed
		if embedding != nil {
			p.Embedding = parseVector(*embedding)
		}
		patterns = append(patterns, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StoreUnavailable("pattern_scan", err)
	}
	return patterns, nil
}

// ============================================
// pgvector helpers
// ============================================

// pgVector converts a float32 slice to pgvector text format.
func pgVector(v []float32) string {
	if len(v) == 0 {
		return "[0]"
	}

	buf := make([]byte, 0, len(v)*13+2)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = fmt.Appendf(buf, "%f", f)
	}
	buf = append(buf, ']')
	return string(buf)
}

// nullableVector returns nil for an empty vector so the column stays NULL.
func nullableVector(v []float32) *string {
	if len(v) == 0 {
		return nil
	}
	s := pgVector(v)
	return &s
}

// parseVector parses pgvector text format back into a float32 slice.
func parseVector(s string) []float32 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	v := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		v = append(v, float32(f))
	}
	return v
}
