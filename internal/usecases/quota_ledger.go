package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrReservationClosed = errors.New("reservation has no open slots")
	ErrInvalidOutcome    = errors.New("outcome cannot settle a quota slot")
)

// QuotaLedger owns the DailyQuota records. Every read-modify-write of a user's
// counters runs inside that user's lock, so reserve and settle are linearized
// per user and concurrent reservations cannot overshoot the limit.
type QuotaLedger struct {
	store      interfaces.QuotaStore
	users      interfaces.UserStore
	locks      *userLocks
	defaultLoc *time.Location
	now        func() time.Time
	log        zerolog.Logger
}

func NewQuotaLedger(store interfaces.QuotaStore, users interfaces.UserStore, defaultLoc *time.Location, log zerolog.Logger) *QuotaLedger {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &QuotaLedger{
		store:      store,
		users:      users,
		locks:      newUserLocks(),
		defaultLoc: defaultLoc,
		now:        time.Now,
		log:        log.With().Str("component", "quota_ledger").Logger(),
	}
}

// profile returns the user's current plan and zone. Users unknown to the
// store get the free plan in the default zone.
func (l *QuotaLedger) profile(ctx context.Context, userID int) (entities.PackagePlan, *time.Location, error) {
	user, err := l.users.GetByID(ctx, userID)
	if err != nil {
		return entities.PackagePlan{}, nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	if user == nil {
		return LimitsFor(""), l.defaultLoc, nil
	}
	return LimitsFor(user.PackageID), user.Location(l.defaultLoc), nil
}

// dayBounds returns the calendar day of now in loc and the next midnight.
func dayBounds(now time.Time, loc *time.Location) (string, time.Time) {
	local := now.In(loc)
	y, m, d := local.Date()
	return local.Format("2006-01-02"), time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// current returns today's record, rolling over lazily. Caller holds the user lock.
func (l *QuotaLedger) current(ctx context.Context, userID int) (*entities.DailyQuota, error) {
	now := l.now()
	latest, err := l.store.Latest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load quota: %w", err)
	}
	if latest != nil && !latest.Expired(now) {
		return latest, nil
	}

	plan, loc, err := l.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	day, resetAt := dayBounds(now, loc)

	// A zone change can point today at a record that already exists.
	existing, err := l.store.Get(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("load quota: %w", err)
	}
	if existing != nil && !existing.Expired(now) {
		return existing, nil
	}

	q := &entities.DailyQuota{
		UserID:    userID,
		Day:       day,
		Limit:     plan.PostsPerDay,
		ResetAt:   resetAt,
		UpdatedAt: now,
	}
	if err := l.store.Save(ctx, q); err != nil {
		return nil, fmt.Errorf("start quota day %s: %w", day, err)
	}
	l.log.Debug().Int("user_id", userID).Str("day", day).Int("limit", q.Limit).Msg("quota day started")
	return q, nil
}

// CurrentQuota returns today's record for the user
func (l *QuotaLedger) CurrentQuota(ctx context.Context, userID int) (entities.DailyQuota, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	q, err := l.current(ctx, userID)
	if err != nil {
		return entities.DailyQuota{}, err
	}
	return *q, nil
}

// Reserve takes n slots or fails with *entities.QuotaExceededError.
func (l *QuotaLedger) Reserve(ctx context.Context, userID int, n int) (*entities.Reservation, error) {
	if n < 1 {
		return nil, fmt.Errorf("reserve %d slots: count must be positive", n)
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	q, err := l.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if q.PostsCount+q.Pending+n > q.Limit {
		return nil, &entities.QuotaExceededError{Remaining: q.Remaining(), Requested: n}
	}

	q.Pending += n
	q.UpdatedAt = l.now()
	if err := l.store.Save(ctx, q); err != nil {
		return nil, fmt.Errorf("save reservation: %w", err)
	}

	return &entities.Reservation{
		ID:     uuid.NewString(),
		UserID: userID,
		Day:    q.Day,
		Slots:  n,
	}, nil
}

// Settle converts one reserved slot into the given outcome. The slot lands in
// the day it was reserved on, even if that day has since rolled over.
func (l *QuotaLedger) Settle(ctx context.Context, r *entities.Reservation, outcome entities.Outcome) error {
	if r == nil || r.Open() <= 0 {
		return ErrReservationClosed
	}

	unlock := l.locks.Lock(r.UserID)
	defer unlock()

	q, err := l.store.Get(ctx, r.UserID, r.Day)
	if err != nil {
		return fmt.Errorf("load quota: %w", err)
	}
	if q == nil {
		return fmt.Errorf("settle reservation %s: no quota record for %s", r.ID, r.Day)
	}

	switch outcome {
	case entities.OutcomeSuccess:
		q.SuccessCount++
	case entities.OutcomeFailed:
		q.FailedCount++
	case entities.OutcomeSkippedDuplicate:
		q.SkippedDuplicateCount++
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	q.PostsCount++
	if q.Pending > 0 {
		q.Pending--
	}
	q.UpdatedAt = l.now()

	if err := l.store.Save(ctx, q); err != nil {
		return fmt.Errorf("settle reservation %s: %w", r.ID, err)
	}
	r.Settled++
	return nil
}

// Release hands back the reservation's open slots without counting them.
func (l *QuotaLedger) Release(ctx context.Context, r *entities.Reservation) error {
	if r == nil || r.Open() <= 0 {
		return nil
	}

	unlock := l.locks.Lock(r.UserID)
	defer unlock()

	q, err := l.store.Get(ctx, r.UserID, r.Day)
	if err != nil {
		return fmt.Errorf("load quota: %w", err)
	}
	if q != nil {
		q.Pending -= r.Open()
		if q.Pending < 0 {
			q.Pending = 0
		}
		q.UpdatedAt = l.now()
		if err := l.store.Save(ctx, q); err != nil {
			return fmt.Errorf("release reservation %s: %w", r.ID, err)
		}
	}
	r.Settled = r.Slots
	return nil
}

// RecordRun counts one automation run for today
func (l *QuotaLedger) RecordRun(ctx context.Context, userID int) error {
	unlock := l.locks.Lock(userID)
	defer unlock()

	q, err := l.current(ctx, userID)
	if err != nil {
		return err
	}
	q.AutomationRunsCount++
	q.UpdatedAt = l.now()
	return l.store.Save(ctx, q)
}

// ResetAt is the next midnight in the user's zone. Display only; gating
// re-derives expiry from the record itself.
func (l *QuotaLedger) ResetAt(ctx context.Context, userID int) (time.Time, error) {
	q, err := l.CurrentQuota(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return q.ResetAt, nil
}

// DayStart returns the previous midnight in the user's zone.
func (l *QuotaLedger) DayStart(ctx context.Context, userID int) (time.Time, error) {
	_, loc, err := l.profile(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := l.now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
}

// RecoverPending clears slots reserved by a process that died before settling.
// Call once at startup, before any batch runs.
func (l *QuotaLedger) RecoverPending(ctx context.Context) error {
	n, err := l.store.ClearPending(ctx)
	if err != nil {
		return fmt.Errorf("recover pending slots: %w", err)
	}
	if n > 0 {
		l.log.Warn().Int("records", n).Msg("released quota slots left pending by previous run")
	}
	return nil
}
