package entities

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected              = errors.New("automation session not connected")
	ErrQuotaExceeded             = errors.New("daily post quota exceeded")
	ErrGroupLimitExceeded        = errors.New("group limit exceeded for package")
	ErrExternalPostFailure       = errors.New("external post failed")
	ErrSessionTransitionConflict = errors.New("session transition already in progress")
	ErrSessionExpired            = errors.New("external session expired")
	ErrInvalidBatch              = errors.New("invalid batch")
	ErrBatchNotFound             = errors.New("batch not found")
	ErrBatchFinished             = errors.New("batch already finished")
	ErrUserNotFound              = errors.New("user not found")
	ErrPropertyLimitExceeded     = errors.New("property limit exceeded for package")
)

// QuotaExceededError carries the slot counts of a rejected reservation.
type QuotaExceededError struct {
	Remaining int
	Requested int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily post quota exceeded: requested %d, remaining %d", e.Requested, e.Remaining)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// GroupLimitError carries the plan ceiling that a batch or group list broke.
type GroupLimitError struct {
	Requested int
	Max       int
	PlanID    string
}

func (e *GroupLimitError) Error() string {
	return fmt.Sprintf("group limit exceeded: %d groups requested, %s package allows %d", e.Requested, e.PlanID, e.Max)
}

func (e *GroupLimitError) Is(target error) bool { return target == ErrGroupLimitExceeded }

// PostError is a poster failure scoped to one group.
type PostError struct {
	GroupID string
	Reason  string
	Err     error
}

func (e *PostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("post to %s failed: %s: %v", e.GroupID, e.Reason, e.Err)
	}
	return fmt.Sprintf("post to %s failed: %s", e.GroupID, e.Reason)
}

func (e *PostError) Unwrap() error { return e.Err }

func (e *PostError) Is(target error) bool { return target == ErrExternalPostFailure }
