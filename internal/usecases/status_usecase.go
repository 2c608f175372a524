package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
)

// TodayStatus is the polled dashboard view of the current quota day.
type TodayStatus struct {
	Package               string         `json:"package"`
	PostsCount            int            `json:"posts_count"`
	Limit                 int            `json:"limit"`
	Remaining             int            `json:"remaining"`
	UsagePercent          int            `json:"usage_percent"`
	SuccessCount          int            `json:"success_count"`
	FailedCount           int            `json:"failed_count"`
	SkippedDuplicateCount int            `json:"skipped_duplicate_count"`
	AutomationRunsCount   int            `json:"automation_runs_count"`
	ActiveBatches         int            `json:"active_batches"` // queued or running
	NextResetAt           time.Time      `json:"next_reset_at"`
	NextResetIn           string         `json:"next_reset_in"`
	NextResetInSeconds    int64          `json:"next_reset_in_seconds"`
	Batches               []BatchSummary `json:"batches"`
}

type BatchSummary struct {
	BatchNum     int                  `json:"batch_num"`
	BatchID      string               `json:"batch_id"`
	GroupCount   int                  `json:"group_count"`
	SuccessCount int                  `json:"success_count"`
	Status       entities.BatchStatus `json:"status"`
	Timestamp    time.Time            `json:"timestamp"`
}

// QueueDepth reports how many of a user's batches are queued or running.
type QueueDepth interface {
	Pending(userID int) int
}

type StatusUsecase struct {
	ledger   *QuotaLedger
	users    interfaces.UserStore
	batches  interfaces.BatchStore
	attempts interfaces.AttemptStore
	queue    QueueDepth // optional
	now      func() time.Time
}

func NewStatusUsecase(ledger *QuotaLedger, users interfaces.UserStore, batches interfaces.BatchStore, attempts interfaces.AttemptStore, queue QueueDepth) *StatusUsecase {
	return &StatusUsecase{
		ledger:   ledger,
		users:    users,
		batches:  batches,
		attempts: attempts,
		queue:    queue,
		now:      time.Now,
	}
}

// TodayStatus reads through the ledger, so it also performs the lazy rollover.
func (s *StatusUsecase) TodayStatus(ctx context.Context, userID int) (*TodayStatus, error) {
	q, err := s.ledger.CurrentQuota(ctx, userID)
	if err != nil {
		return nil, err
	}
	dayStart, err := s.ledger.DayStart(ctx, userID)
	if err != nil {
		return nil, err
	}
	runs, err := s.batches.ListSince(ctx, userID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	planID := entities.PlanFree
	if user, err := s.users.GetByID(ctx, userID); err == nil && user != nil {
		planID = LimitsFor(user.PackageID).ID
	}

	resetIn := q.ResetAt.Sub(s.now())
	if resetIn < 0 {
		resetIn = 0
	}

	status := &TodayStatus{
		Package:               planID,
		PostsCount:            q.PostsCount,
		Limit:                 q.Limit,
		Remaining:             q.Remaining(),
		UsagePercent:          q.UsagePercent(),
		SuccessCount:          q.SuccessCount,
		FailedCount:           q.FailedCount,
		SkippedDuplicateCount: q.SkippedDuplicateCount,
		AutomationRunsCount:   q.AutomationRunsCount,
		NextResetAt:           q.ResetAt,
		NextResetIn:           formatCountdown(resetIn),
		NextResetInSeconds:    int64(resetIn / time.Second),
		Batches:               make([]BatchSummary, 0, len(runs)),
	}
	if s.queue != nil {
		status.ActiveBatches = s.queue.Pending(userID)
	}
	for i, b := range runs {
		status.Batches = append(status.Batches, BatchSummary{
			BatchNum:     i + 1,
			BatchID:      b.ID,
			GroupCount:   len(b.GroupIDs),
			SuccessCount: b.SuccessCount(),
			Status:       b.Status,
			Timestamp:    b.CreatedAt,
		})
	}
	return status, nil
}

// formatCountdown renders "5h 07m" style durations
func formatCountdown(d time.Duration) string {
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh %02dm", h, m)
}

// History returns attempts newest first, optionally for one property.
func (s *StatusUsecase) History(ctx context.Context, userID int, propertyID string, limit int) ([]entities.PostingAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	attempts, err := s.attempts.List(ctx, userID, propertyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}
