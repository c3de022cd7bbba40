package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/anchorgate/internal/core/domain"
)

// DefaultCapacity bounds the records kept by a HistoryRepo.
const DefaultCapacity = 10_000

// HistoryRepo keeps the most recent call records in memory. Once full, new
// records overwrite the oldest in place.
type HistoryRepo struct {
	mu       sync.RWMutex
	records  []*domain.CallRecord
	head     int // oldest record once full
	capacity int
}

// NewHistoryRepo creates a repository keeping at most capacity records.
func NewHistoryRepo(capacity int) *HistoryRepo {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &HistoryRepo{capacity: capacity}
}

func (r *HistoryRepo) Save(ctx context.Context, rec *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *rec
	if len(r.records) < r.capacity {
		r.records = append(r.records, &cp)
		return nil
	}
	r.records[r.head] = &cp
	r.head = (r.head + 1) % r.capacity
	return nil
}

// at returns the i-th oldest record.
func (r *HistoryRepo) at(i int) *domain.CallRecord {
	return r.records[(r.head+i)%len(r.records)]
}

func (r *HistoryRepo) Recent(ctx context.Context, anchor string, limit int) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.CallRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec := r.at(i)
		if anchor != "" && rec.Anchor != anchor {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *HistoryRepo) CountByOutcome(ctx context.Context, anchor string) ([]domain.OutcomeCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range r.records {
		if anchor != "" && rec.Anchor != anchor {
			continue
		}
		counts[rec.Outcome]++
	}

	out := make([]domain.OutcomeCount, 0, len(counts))
	for outcome, n := range counts {
		out = append(out, domain.OutcomeCount{Outcome: outcome, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Outcome < out[j].Outcome })
	return out, nil
}

func (r *HistoryRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*domain.CallRecord, 0, len(r.records))
	var removed int64
	for i := range r.records {
		rec := r.at(i)
		if rec.CompletedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	r.head = 0
	return removed, nil
}
