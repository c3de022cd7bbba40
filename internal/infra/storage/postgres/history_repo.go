package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/anchorgate/internal/core/domain"
)

// HistoryRepo implements storage.HistoryRepository using PostgreSQL.
type HistoryRepo struct {
	db *DB
}

// NewHistoryRepo creates a new PostgreSQL call history repository.
func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// Save inserts a call record.
func (r *HistoryRepo) Save(ctx context.Context, rec *domain.CallRecord) error {
	query := `
		INSERT INTO call_history (
			id, request_id, anchor, operation, outcome, attempts, total_delay_ms,
			error_code, error_category, error_message, started_at, completed_at
		) VALUES (
			:id, :request_id, :anchor, :operation, :outcome, :attempts, :total_delay_ms,
			:error_code, :error_category, :error_message, :started_at, :completed_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to save call record: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (r *HistoryRepo) Recent(ctx context.Context, anchor string, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, request_id, anchor, operation, outcome, attempts, total_delay_ms,
		       error_code, error_category, error_message, started_at, completed_at
		FROM call_history
		WHERE ($1 = '' OR anchor = $1)
		ORDER BY completed_at DESC
		LIMIT $2
	`
	var records []*domain.CallRecord
	if err := r.db.SelectContext(ctx, &records, query, anchor, limit); err != nil {
		return nil, fmt.Errorf("failed to query call history: %w", err)
	}
	return records, nil
}

// CountByOutcome aggregates call records by outcome.
func (r *HistoryRepo) CountByOutcome(ctx context.Context, anchor string) ([]domain.OutcomeCount, error) {
	query := `
		SELECT outcome, COUNT(*) AS count
		FROM call_history
		WHERE ($1 = '' OR anchor = $1)
		GROUP BY outcome
		ORDER BY outcome
	`
	var counts []domain.OutcomeCount
	if err := r.db.SelectContext(ctx, &counts, query, anchor); err != nil {
		return nil, fmt.Errorf("failed to count call outcomes: %w", err)
	}
	return counts, nil
}

// Prune deletes records completed before cutoff.
func (r *HistoryRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM call_history WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune call history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned rows: %w", err)
	}
	return n, nil
}
