package entities

import "time"

// DailyQuota is one user's posting counters for one calendar day in the
// user's zone. Records are superseded, never deleted, when ResetAt passes.
type DailyQuota struct {
	UserID                int       `json:"user_id"`
	Day                   string    `json:"day"` // YYYY-MM-DD in the user's zone
	PostsCount            int       `json:"posts_count"`
	SuccessCount          int       `json:"success_count"`
	FailedCount           int       `json:"failed_count"`
	SkippedDuplicateCount int       `json:"skipped_duplicate_count"`
	AutomationRunsCount   int       `json:"automation_runs_count"`
	Pending               int       `json:"pending"` // reserved, not yet settled
	Limit                 int       `json:"limit"`
	ResetAt               time.Time `json:"reset_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Remaining returns the slots still available for reservation.
func (q DailyQuota) Remaining() int {
	r := q.Limit - q.PostsCount - q.Pending
	if r < 0 {
		return 0
	}
	return r
}

// UsagePercent is the settled share of the limit, capped at 100.
func (q DailyQuota) UsagePercent() int {
	if q.Limit <= 0 {
		return 100
	}
	p := (q.PostsCount * 100) / q.Limit
	if p > 100 {
		p = 100
	}
	return p
}

// Expired reports whether the record has been superseded at now.
func (q DailyQuota) Expired(now time.Time) bool {
	return !now.Before(q.ResetAt)
}

// Reservation covers quota slots taken before dispatch. Every slot must be
// settled or released.
type Reservation struct {
	ID      string `json:"id"`
	UserID  int    `json:"user_id"`
	Day     string `json:"day"`
	Slots   int    `json:"slots"`
	Settled int    `json:"settled"`
}

// Open returns the number of slots not yet settled or released.
func (r *Reservation) Open() int {
	return r.Slots - r.Settled
}
