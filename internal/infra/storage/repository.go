package storage

import (
	"context"
	"time"

	"github.com/vietddude/anchorgate/internal/core/domain"
)

// HistoryRepository stores call records.
type HistoryRepository interface {
	// Save stores a record
	Save(ctx context.Context, rec *domain.CallRecord) error

	// Recent returns the newest records first. An empty anchor matches all.
	Recent(ctx context.Context, anchor string, limit int) ([]*domain.CallRecord, error)

	// CountByOutcome aggregates records of anchor by outcome. An empty anchor
	// matches all.
	CountByOutcome(ctx context.Context, anchor string) ([]domain.OutcomeCount, error)

	// Prune deletes records that completed before cutoff
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
