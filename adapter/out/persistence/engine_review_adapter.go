package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

// ReviewAdapter implements out.ReviewRepository using PostgreSQL. State
// transitions are single guarded UPDATEs, so two concurrent resolves of the
// same item can never both apply.
type ReviewAdapter struct {
	db *sqlx.DB
}

func NewReviewAdapter(db *sqlx.DB) *ReviewAdapter {
	return &ReviewAdapter{db: db}
}

// reviewRow represents the database row for review queue items.
type reviewRow struct {
	ID             string         `db:"id"`
	EventID        string         `db:"event_id"`
	ConversationID string         `db:"conversation_id"`
	MessageText    string         `db:"message_text"`
	PatternID      sql.NullInt64  `db:"pattern_id"`
	CandidateReply sql.NullString `db:"candidate_reply"`
	Score          float64        `db:"score"`
	Degraded       bool           `db:"degraded"`
	State          string         `db:"state"`
	EditedReply    sql.NullString `db:"edited_reply"`
	CreatedAt      time.Time      `db:"created_at"`
	ExpiresAt      time.Time      `db:"expires_at"`
	ResolvedAt     sql.NullTime   `db:"resolved_at"`
}

func (r *reviewRow) toEntity() *domain.ReviewItem {
	item := &domain.ReviewItem{
		ID:             r.ID,
		EventID:        r.EventID,
		ConversationID: r.ConversationID,
		MessageText:    r.MessageText,
		Score:          r.Score,
		Degraded:       r.Degraded,
		State:          domain.ReviewState(r.State),
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
	if r.PatternID.Valid {
		item.PatternID = &r.PatternID.Int64
	}
	if r.CandidateReply.Valid {
		item.CandidateReply = r.CandidateReply.String
	}
	if r.EditedReply.Valid {
		item.EditedReply = &r.EditedReply.String
	}
	if r.ResolvedAt.Valid {
		item.ResolvedAt = &r.ResolvedAt.Time
	}
	return item
}

const reviewColumns = `
	id, event_id, conversation_id, message_text, pattern_id, candidate_reply,
	score, degraded, state, edited_reply, created_at, expires_at, resolved_at`

func (a *ReviewAdapter) Create(ctx context.Context, item *domain.ReviewItem) error {
	query := `
		INSERT INTO review_items (
			id, event_id, conversation_id, message_text, pattern_id,
			candidate_reply, score, degraded, state, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)`

	_, err := a.db.ExecContext(ctx, query,
		item.ID, item.EventID, item.ConversationID, item.MessageText, item.PatternID,
		item.CandidateReply, item.Score, item.Degraded, string(item.State),
		item.CreatedAt, item.ExpiresAt)
	if err != nil {
		return apperr.StoreUnavailable("review_create", err)
	}
	return nil
}

func (a *ReviewAdapter) GetByID(ctx context.Context, id string) (*domain.ReviewItem, error) {
	var row reviewRow
	query := `SELECT ` + reviewColumns + ` FROM review_items WHERE id = $1`

	err := a.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("review item")
	}
	if err != nil {
		return nil, apperr.StoreUnavailable("review_get", err)
	}
	return row.toEntity(), nil
}

func (a *ReviewAdapter) ListPending(ctx context.Context, limit, offset int) ([]*domain.ReviewItem, int, error) {
	var total int
	if err := a.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM review_items WHERE state = 'pending'`); err != nil {
		return nil, 0, apperr.StoreUnavailable("review_list", err)
	}

	var rows []reviewRow
	query := `
		SELECT ` + reviewColumns + `
		FROM review_items
		WHERE state = 'pending'
		ORDER BY created_at
		LIMIT $1 OFFSET $2`

	if err := a.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, 0, apperr.StoreUnavailable("review_list", err)
	}

	items := make([]*domain.ReviewItem, len(rows))
	for i := range rows {
		items[i] = rows[i].toEntity()
	}
	return items, total, nil
}

// Resolve transitions pending → terminal. The WHERE state = 'pending'
// clause is the idempotency guard: the first resolve wins, every later one
// matches zero rows and maps to already-resolved (or not-found when the id
// never existed).
func (a *ReviewAdapter) Resolve(ctx context.Context, id string, state domain.ReviewState, editedReply *string, at time.Time) (*domain.ReviewItem, error) {
	var row reviewRow
	query := `
		UPDATE review_items
		SET state = $1, edited_reply = $2, resolved_at = $3
		WHERE id = $4 AND state = 'pending'
		RETURNING ` + reviewColumns

	err := a.db.GetContext(ctx, &row, query, string(state), editedReply, at, id)
	if err == sql.ErrNoRows {
		var exists bool
		if checkErr := a.db.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM review_items WHERE id = $1)`, id); checkErr == nil && !exists {
			return nil, apperr.NotFound("review item")
		}
		return nil, apperr.AlreadyResolved(id)
	}
	if err != nil {
		return nil, apperr.StoreUnavailable("review_resolve", err)
	}
	return row.toEntity(), nil
}

// ExpirePending sweeps all overdue pending items in one statement.
func (a *ReviewAdapter) ExpirePending(ctx context.Context, olderThan time.Time) ([]*domain.ReviewItem, error) {
	var rows []reviewRow
	query := `
		UPDATE review_items
		SET state = 'expired', resolved_at = NOW()
		WHERE state = 'pending' AND expires_at < $1
		RETURNING ` + reviewColumns

	if err := a.db.SelectContext(ctx, &rows, query, olderThan); err != nil {
		return nil, apperr.StoreUnavailable("review_expire", err)
	}

	items := make([]*domain.ReviewItem, len(rows))
	for i := range rows {
		items[i] = rows[i].toEntity()
	}
	return items, nil
}
