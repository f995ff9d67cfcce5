package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

// ExecutionAdapter implements out.ExecutionRepository using PostgreSQL.
// Reads only; writes go through the pattern repository so record inserts
// and statistic updates share a transaction.
type ExecutionAdapter struct {
	db *sqlx.DB
}

func NewExecutionAdapter(db *sqlx.DB) *ExecutionAdapter {
	return &ExecutionAdapter{db: db}
}

// executionRow represents the database row for execution records, joined
// with the latest resolution when one exists.
type executionRow struct {
	ID             int64         `db:"id"`
	PatternID      sql.NullInt64 `db:"pattern_id"`
	ConversationID string        `db:"conversation_id"`
	EventID        string        `db:"event_id"`
	Decision       string        `db:"decision"`
	Outcome        string        `db:"outcome"`
	Score          float64       `db:"score"`
	Degraded       bool          `db:"degraded"`
	Shadow         bool          `db:"shadow"`
	CreatedAt      time.Time     `db:"created_at"`
}

func (r *executionRow) toEntity() *domain.ExecutionRecord {
	rec := &domain.ExecutionRecord{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		EventID:        r.EventID,
		Decision:       domain.Decision(r.Decision),
		Outcome:        domain.Outcome(r.Outcome),
		Score:          r.Score,
		Degraded:       r.Degraded,
		Shadow:         r.Shadow,
		CreatedAt:      r.CreatedAt,
	}
	if r.PatternID.Valid {
		rec.PatternID = &r.PatternID.Int64
	}
	return rec
}

// executionColumns folds the newest resolution row into the outcome, so a
// record reads with its current outcome while the decision row itself
// stays append-only.
const executionColumns = `
	e.id, e.pattern_id, e.conversation_id, e.event_id, e.decision,
	COALESCE(r.outcome, e.outcome) AS outcome,
	e.score, e.degraded, e.shadow, e.created_at`

const executionFrom = `
	FROM execution_records e
	LEFT JOIN LATERAL (
		SELECT outcome FROM execution_resolutions
		WHERE execution_id = e.id
		ORDER BY created_at DESC
		LIMIT 1
	) r ON true`

func (a *ExecutionAdapter) GetByEventID(ctx context.Context, eventID string) (*domain.ExecutionRecord, error) {
	var row executionRow
	query := `SELECT ` + executionColumns + executionFrom + `
		WHERE e.event_id = $1
		ORDER BY e.id DESC
		LIMIT 1`

	err := a.db.GetContext(ctx, &row, query, eventID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("execution record")
	}
	if err != nil {
		return nil, apperr.StoreUnavailable("execution_get", err)
	}
	return row.toEntity(), nil
}

func (a *ExecutionAdapter) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.ExecutionRecord, error) {
	var rows []executionRow
	query := `SELECT ` + executionColumns + executionFrom + `
		WHERE e.conversation_id = $1
		ORDER BY e.id DESC
		LIMIT $2`

	if err := a.db.SelectContext(ctx, &rows, query, conversationID, limit); err != nil {
		return nil, apperr.StoreUnavailable("execution_list", err)
	}

	records := make([]*domain.ExecutionRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].toEntity()
	}
	return records, nil
}

// Summary aggregates records since the cutoff for the analytics endpoint.
func (a *ExecutionAdapter) Summary(ctx context.Context, since time.Time) (*domain.ExecutionSummary, error) {
	summary := &domain.ExecutionSummary{
		ByDecision: make(map[string]int64),
		ByOutcome:  make(map[string]int64),
	}

	query := `
		SELECT e.decision, COALESCE(r.outcome, e.outcome) AS outcome,
		       e.degraded, e.shadow, COUNT(*) AS n` + executionFrom + `
		WHERE e.created_at >= $1
		GROUP BY 1, 2, 3, 4`

	rows, err := a.db.QueryxContext(ctx, query, since)
	if err != nil {
		return nil, apperr.StoreUnavailable("execution_summary", err)
	}
	defer rows.Close()

	for rows.Next() {
		var decision, outcome string
		var degraded, shadow bool
		var n int64
		if err := rows.Scan(&decision, &outcome, &degraded, &shadow, &n); err != nil {
			return nil, apperr.StoreUnavailable("execution_summary", err)
		}
		summary.Total += n
		summary.ByDecision[decision] += n
		summary.ByOutcome[outcome] += n
		if degraded {
			summary.Degraded += n
		}
		if shadow {
			summary.Shadow += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StoreUnavailable("execution_summary", err)
	}
	return summary, nil
}
