package entities

import "time"

// Outcome is the result recorded for one (property, group) dispatch decision.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFailed           Outcome = "failed"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"

	// Markers for groups of a batch that never reached the poster.
	OutcomeQuotaExceeded Outcome = "quota_exceeded"
	OutcomeNotConnected  Outcome = "not_connected"
	OutcomeCancelled     Outcome = "cancelled"
)

// Attempted reports whether the outcome produced a PostingAttempt record.
func (o Outcome) Attempted() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeSkippedDuplicate:
		return true
	}
	return false
}

// PostingAttempt is an immutable history record.
type PostingAttempt struct {
	ID          string    `json:"id"`
	UserID      int       `json:"user_id"`
	PropertyID  string    `json:"property_id"`
	GroupID     string    `json:"group_id"`
	GroupName   string    `json:"group_name"`
	BatchID     string    `json:"batch_id"`
	Outcome     Outcome   `json:"outcome"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type BatchStatus string

const (
	BatchQueued    BatchStatus = "queued"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial" // stopped early, remaining groups untouched
	BatchCancelled BatchStatus = "cancelled"
	BatchAborted   BatchStatus = "aborted"
)

// Terminal reports whether the batch will not change anymore.
func (s BatchStatus) Terminal() bool {
	return s != BatchQueued && s != BatchRunning
}

// BatchRun is one accepted "post this property to these groups" request.
// GroupIDs keep the submission order, which is the posting order.
type BatchRun struct {
	ID          string             `json:"id"`
	UserID      int                `json:"user_id"`
	PropertyID  string             `json:"property_id"`
	GroupIDs    []string           `json:"group_ids"`
	Status      BatchStatus        `json:"status"`
	Outcomes    map[string]Outcome `json:"outcomes"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// SuccessCount counts groups posted successfully.
func (b *BatchRun) SuccessCount() int {
	n := 0
	for _, o := range b.Outcomes {
		if o == OutcomeSuccess {
			n++
		}
	}
	return n
}

type GroupResult struct {
	GroupID   string  `json:"group_id"`
	GroupName string  `json:"group_name"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`
}

type BatchCounts struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// BatchResult is the aggregated answer for a submitted batch.
type BatchResult struct {
	BatchID       string        `json:"batch_id"`
	PropertyID    string        `json:"property_id"`
	Status        BatchStatus   `json:"status"`
	Counts        BatchCounts   `json:"counts"`
	Groups        []GroupResult `json:"groups"`
	Remaining     []string      `json:"remaining"` // untouched groups, in order
	QuotaExceeded bool          `json:"quota_exceeded"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// Tally folds a group result into the counts.
func (r *BatchResult) Tally(g GroupResult) {
	r.Groups = append(r.Groups, g)
	switch g.Outcome {
	case OutcomeSuccess:
		r.Counts.Success++
	case OutcomeFailed:
		r.Counts.Failed++
	case OutcomeSkippedDuplicate:
		r.Counts.Skipped++
	default:
		r.Remaining = append(r.Remaining, g.GroupID)
		if g.Outcome == OutcomeQuotaExceeded {
			r.QuotaExceeded = true
		}
	}
}
