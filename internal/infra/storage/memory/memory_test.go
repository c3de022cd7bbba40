package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/anchorgate/internal/core/domain"
)

func record(anchor, outcome string, completed time.Time) *domain.CallRecord {
	return &domain.CallRecord{
		ID:          anchor + outcome + completed.String(),
		Anchor:      anchor,
		Operation:   "probe",
		Outcome:     outcome,
		StartedAt:   completed.Add(-time.Second),
		CompletedAt: completed,
	}
}

func TestHistoryRepo_RecentNewestFirst(t *testing.T) {
	repo := NewHistoryRepo(0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		anchor := "alpha"
		if i%2 == 1 {
			anchor = "beta"
		}
		if err := repo.Save(ctx, record(anchor, "succeeded", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	all, err := repo.Recent(ctx, "", 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 3 || !all[0].CompletedAt.Equal(base.Add(4*time.Minute)) {
		t.Errorf("expected newest 3 records, got %d starting at %v", len(all), all[0].CompletedAt)
	}

	betas, _ := repo.Recent(ctx, "beta", 0)
	if len(betas) != 2 {
		t.Errorf("expected 2 beta records, got %d", len(betas))
	}
	for _, r := range betas {
		if r.Anchor != "beta" {
			t.Errorf("unexpected anchor %s", r.Anchor)
		}
	}
}

func TestHistoryRepo_Capacity(t *testing.T) {
	repo := NewHistoryRepo(3)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		_ = repo.Save(ctx, record("alpha", "succeeded", base.Add(time.Duration(i)*time.Second)))
	}

	recs, _ := repo.Recent(ctx, "", 0)
	if len(recs) != 3 {
		t.Fatalf("expected capacity of 3, got %d", len(recs))
	}
	if !recs[2].CompletedAt.Equal(base.Add(7 * time.Second)) {
		t.Errorf("oldest kept record should be #7, got %v", recs[2].CompletedAt)
	}
}

func TestHistoryRepo_WrapThenPrune(t *testing.T) {
	repo := NewHistoryRepo(4)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	at := func(i int) time.Time { return base.Add(time.Duration(i) * time.Second) }

	for i := 0; i < 6; i++ {
		_ = repo.Save(ctx, record("alpha", "succeeded", at(i)))
	}
	_ = repo.Save(ctx, record("alpha", "succeeded", at(6)))
	if len(repo.records) != 4 || !repo.records[2].CompletedAt.Equal(at(6)) {
		t.Fatalf("full buffer should overwrite in place")
	}

	removed, err := repo.Prune(ctx, at(5))
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 pruned, got %d (%v)", removed, err)
	}
	_ = repo.Save(ctx, record("alpha", "succeeded", at(7)))
	_ = repo.Save(ctx, record("alpha", "succeeded", at(8)))
	_ = repo.Save(ctx, record("alpha", "succeeded", at(9)))

	recs, _ := repo.Recent(ctx, "", 0)
	want := []int{9, 8, 7, 6}
	if len(recs) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(recs))
	}
	for i, w := range want {
		if !recs[i].CompletedAt.Equal(at(w)) {
			t.Errorf("record %d: expected #%d, got %v", i, w, recs[i].CompletedAt)
		}
	}
}

func TestHistoryRepo_CountByOutcome(t *testing.T) {
	repo := NewHistoryRepo(0)
	ctx := context.Background()
	now := time.Now()

	_ = repo.Save(ctx, record("alpha", "succeeded", now))
	_ = repo.Save(ctx, record("alpha", "succeeded", now))
	_ = repo.Save(ctx, record("alpha", "exhausted", now))
	_ = repo.Save(ctx, record("beta", "rate_limited", now))

	counts, err := repo.CountByOutcome(ctx, "alpha")
	if err != nil {
		t.Fatalf("CountByOutcome failed: %v", err)
	}
	want := []domain.OutcomeCount{{Outcome: "exhausted", Count: 1}, {Outcome: "succeeded", Count: 2}}
	if len(counts) != len(want) {
		t.Fatalf("expected %v, got %v", want, counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("count %d: expected %v, got %v", i, want[i], counts[i])
		}
	}
}

func TestHistoryRepo_Prune(t *testing.T) {
	repo := NewHistoryRepo(0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_ = repo.Save(ctx, record("alpha", "succeeded", base))
	_ = repo.Save(ctx, record("alpha", "succeeded", base.Add(2*time.Hour)))

	removed, err := repo.Prune(ctx, base.Add(time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 pruned, got %d (%v)", removed, err)
	}
	recs, _ := repo.Recent(ctx, "", 0)
	if len(recs) != 1 {
		t.Errorf("expected 1 record left, got %d", len(recs))
	}
}

func TestHistoryRepo_SaveCopies(t *testing.T) {
	repo := NewHistoryRepo(0)
	ctx := context.Background()

	rec := record("alpha", "succeeded", time.Now())
	_ = repo.Save(ctx, rec)
	rec.Outcome = "mutated"

	recs, _ := repo.Recent(ctx, "", 1)
	if recs[0].Outcome != "succeeded" {
		t.Errorf("stored record should not alias the caller's value")
	}
}
