package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
)

func TestReserveSettleKeepsCounts(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	ctx := context.Background()

	outcomes := []entities.Outcome{
		entities.OutcomeSuccess, entities.OutcomeFailed, entities.OutcomeSkippedDuplicate, entities.OutcomeSuccess,
	}
	for _, o := range outcomes {
		r, err := f.ledger.Reserve(ctx, testUser, 1)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if q := f.quota(); q.Pending != 1 {
			t.Fatalf("pending after reserve = %d, want 1", q.Pending)
		}
		if err := f.ledger.Settle(ctx, r, o); err != nil {
			t.Fatalf("Settle(%s): %v", o, err)
		}
		assertInvariant(t, f.quota())
	}

	q := f.quota()
	if q.PostsCount != 4 || q.SuccessCount != 2 || q.FailedCount != 1 || q.SkippedDuplicateCount != 1 {
		t.Errorf("quota = %+v", q)
	}
	if q.Pending != 0 {
		t.Errorf("pending = %d, want 0", q.Pending)
	}
	if q.Remaining() != 16 || q.UsagePercent() != 20 {
		t.Errorf("remaining %d usage %d%%, want 16 and 20%%", q.Remaining(), q.UsagePercent())
	}
}

func TestReserveRejectsOverLimit(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	ctx := context.Background()

	r, err := f.ledger.Reserve(ctx, testUser, 18)
	if err != nil {
		t.Fatalf("Reserve(18): %v", err)
	}

	_, err = f.ledger.Reserve(ctx, testUser, 3)
	var qe *entities.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("Reserve(3) = %v, want QuotaExceededError", err)
	}
	if qe.Remaining != 2 || qe.Requested != 3 {
		t.Errorf("rejection = %+v, want remaining 2 requested 3", qe)
	}
	if !errors.Is(err, entities.ErrQuotaExceeded) {
		t.Error("rejection does not match ErrQuotaExceeded")
	}

	if _, err := f.ledger.Reserve(ctx, testUser, 2); err != nil {
		t.Errorf("Reserve(2) at 18/20: %v", err)
	}
	if q := f.quota(); q.Pending != 20 || q.Remaining() != 0 {
		t.Errorf("quota = %+v", q)
	}
	if err := f.ledger.Release(ctx, r); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if q := f.quota(); q.Pending != 2 || q.PostsCount != 0 {
		t.Errorf("after release pending %d posts %d, want 2 and 0", q.Pending, q.PostsCount)
	}
}

func TestReserveRejectsNonPositive(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	if _, err := f.ledger.Reserve(context.Background(), testUser, 0); err == nil {
		t.Error("Reserve(0) succeeded")
	}
}

func TestSettleRules(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	ctx := context.Background()

	r, err := f.ledger.Reserve(ctx, testUser, 1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := f.ledger.Settle(ctx, r, entities.OutcomeQuotaExceeded); !errors.Is(err, ErrInvalidOutcome) {
		t.Errorf("Settle(quota_exceeded) = %v, want ErrInvalidOutcome", err)
	}
	if err := f.ledger.Settle(ctx, r, entities.OutcomeSuccess); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if err := f.ledger.Settle(ctx, r, entities.OutcomeSuccess); !errors.Is(err, ErrReservationClosed) {
		t.Errorf("second Settle = %v, want ErrReservationClosed", err)
	}
	if q := f.quota(); q.PostsCount != 1 {
		t.Errorf("posts_count = %d, want 1", q.PostsCount)
	}
}

func TestCurrentQuotaIsIdempotent(t *testing.T) {
	f := newFixture(t, entities.PlanAgent)

	first := f.quota()
	second := f.quota()
	if first != second {
		t.Errorf("CurrentQuota changed between reads:\n%+v\n%+v", first, second)
	}
	if first.Limit != 100 || first.Day != "2026-03-10" {
		t.Errorf("quota = %+v", first)
	}
}

func TestQuotaResetsAtLocalMidnight(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	ctx := context.Background()
	loc := jakarta(t)

	f.clock.Set(time.Date(2026, 3, 10, 23, 59, 0, 0, loc))
	r, err := f.ledger.Reserve(ctx, testUser, 1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Upgrades apply from the next day.
	if err := f.users.UpdatePackage(ctx, testUser, entities.PlanElite); err != nil {
		t.Fatalf("UpdatePackage: %v", err)
	}
	if q := f.quota(); q.Limit != 20 {
		t.Errorf("limit before midnight = %d, want 20", q.Limit)
	}

	wantReset := time.Date(2026, 3, 11, 0, 0, 0, 0, loc)
	resetAt, err := f.ledger.ResetAt(ctx, testUser)
	if err != nil {
		t.Fatalf("ResetAt: %v", err)
	}
	if !resetAt.Equal(wantReset) {
		t.Errorf("ResetAt = %v, want %v", resetAt, wantReset)
	}

	f.clock.Set(wantReset.Add(time.Second))
	q := f.quota()
	if q.Day != "2026-03-11" || q.PostsCount != 0 || q.Pending != 0 || q.Limit != 300 {
		t.Errorf("quota after midnight = %+v", q)
	}
	if !q.ResetAt.Equal(time.Date(2026, 3, 12, 0, 0, 0, 0, loc)) {
		t.Errorf("next ResetAt = %v", q.ResetAt)
	}

	// A slot reserved before midnight settles into its own day.
	if err := f.ledger.Settle(ctx, r, entities.OutcomeSuccess); err != nil {
		t.Fatalf("Settle across midnight: %v", err)
	}
	old, err := f.quotas.Get(ctx, testUser, "2026-03-10")
	if err != nil || old == nil {
		t.Fatalf("old record: %v %v", old, err)
	}
	if old.PostsCount != 1 || old.Pending != 0 {
		t.Errorf("old record = %+v", old)
	}
	if q := f.quota(); q.PostsCount != 0 {
		t.Errorf("today posts_count = %d, want 0", q.PostsCount)
	}
}

func TestConcurrentReservesNeverOvershoot(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, rejected := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Reserve(ctx, testUser, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, entities.ErrQuotaExceeded):
				rejected++
			default:
				t.Errorf("Reserve: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted != 20 || rejected != 30 {
		t.Errorf("granted %d rejected %d, want 20 and 30", granted, rejected)
	}
	assertInvariant(t, f.quota())
}

func TestRecordRunAndRecoverPending(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	ctx := context.Background()

	if err := f.ledger.RecordRun(ctx, testUser); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if _, err := f.ledger.Reserve(ctx, testUser, 4); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// A restarted process starts with a fresh ledger over the same store.
	restarted := NewQuotaLedger(f.quotas, f.users, time.UTC, f.ledger.log)
	restarted.now = f.clock.Now
	if err := restarted.RecoverPending(ctx); err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	q, err := restarted.CurrentQuota(ctx, testUser)
	if err != nil {
		t.Fatalf("CurrentQuota: %v", err)
	}
	if q.Pending != 0 || q.Remaining() != 20 || q.AutomationRunsCount != 1 {
		t.Errorf("quota after recovery = %+v", q)
	}
}

func TestUnknownUserGetsFreePlan(t *testing.T) {
	f := newFixture(t, entities.PlanElite)
	q, err := f.ledger.CurrentQuota(context.Background(), 999)
	if err != nil {
		t.Fatalf("CurrentQuota: %v", err)
	}
	if q.Limit != 20 {
		t.Errorf("limit = %d, want 20", q.Limit)
	}
	// UTC day for an unknown user
	if q.Day != "2026-03-10" {
		t.Errorf("day = %s", q.Day)
	}
}
