package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/interfaces"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BatchQueue serializes batches per user in FIFO order.
type BatchQueue interface {
	Submit(userID int, job func()) int
}

// Throttle delays a user's next external post.
type Throttle interface {
	Wait(ctx context.Context, userID int) error
}

type DispatcherDeps struct {
	Ledger   *QuotaLedger
	Guard    *DuplicateGuard
	Sessions *SessionRegistry
	Poster   interfaces.Poster
	Users    interfaces.UserStore
	Batches  interfaces.BatchStore
	Attempts interfaces.AttemptStore
	Groups   interfaces.GroupStore    // optional, resolves group names
	Captions interfaces.CaptionSource // optional
	Queue    BatchQueue
	Throttle Throttle // optional
	Log      zerolog.Logger
}

// BatchDispatcher runs "post this property into these groups" requests.
type BatchDispatcher struct {
	DispatcherDeps
	log zerolog.Logger
	now func() time.Time

	mu      sync.Mutex
	running map[string]*trackedBatch
}

type trackedBatch struct {
	userID int
	cancel context.CancelFunc
	done   chan struct{}
	result *entities.BatchResult
}

func NewBatchDispatcher(deps DispatcherDeps) *BatchDispatcher {
	return &BatchDispatcher{
		DispatcherDeps: deps,
		log:            deps.Log.With().Str("component", "batch_dispatcher").Logger(),
		now:            time.Now,
		running:        make(map[string]*trackedBatch),
	}
}

// SubmitBatch queues the batch behind the user's earlier ones and waits for
// its result. If ctx ends first the batch keeps running and ctx.Err() is
// returned; the result stays readable through Batch.
func (d *BatchDispatcher) SubmitBatch(ctx context.Context, userID int, propertyID string, groupIDs []string) (*entities.BatchResult, error) {
	_, tracked, err := d.enqueue(ctx, userID, propertyID, groupIDs)
	if err != nil {
		return nil, err
	}
	select {
	case <-tracked.done:
		return tracked.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enqueue accepts the batch and returns without waiting for it to run.
func (d *BatchDispatcher) Enqueue(ctx context.Context, userID int, propertyID string, groupIDs []string) (*entities.BatchRun, error) {
	run, _, err := d.enqueue(ctx, userID, propertyID, groupIDs)
	return run, err
}

// Cancel stops a queued or running batch before its next group. A post
// already handed to the poster completes. A finished batch fails with
// entities.ErrBatchFinished.
func (d *BatchDispatcher) Cancel(ctx context.Context, userID int, batchID string) error {
	d.mu.Lock()
	tracked, ok := d.running[batchID]
	d.mu.Unlock()
	if ok && tracked.userID == userID {
		tracked.cancel()
		return nil
	}

	run, err := d.Batches.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if run.UserID != userID {
		return entities.ErrBatchNotFound
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: batch is %s", entities.ErrBatchFinished, run.Status)
	}
	return nil
}

// CancelAll cancels every queued and running batch (for graceful shutdown).
func (d *BatchDispatcher) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, tracked := range d.running {
		tracked.cancel()
	}
}

// Batch returns a stored run owned by the user.
func (d *BatchDispatcher) Batch(ctx context.Context, userID int, batchID string) (*entities.BatchRun, error) {
	run, err := d.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, entities.ErrBatchNotFound
	}
	return run, nil
}

func validateGroups(propertyID string, groupIDs []string) error {
	if strings.TrimSpace(propertyID) == "" {
		return fmt.Errorf("%w: property id is required", entities.ErrInvalidBatch)
	}
	if len(groupIDs) == 0 {
		return fmt.Errorf("%w: no groups selected", entities.ErrInvalidBatch)
	}
	seen := make(map[string]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty group id", entities.ErrInvalidBatch)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: group %s listed twice", entities.ErrInvalidBatch, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// enqueue checks the preconditions, stores the queued run and hands it to the
// user's queue. Rejections here happen before any side effect.
func (d *BatchDispatcher) enqueue(ctx context.Context, userID int, propertyID string, groupIDs []string) (*entities.BatchRun, *trackedBatch, error) {
	if err := validateGroups(propertyID, groupIDs); err != nil {
		return nil, nil, err
	}
	if err := d.Sessions.Require(userID); err != nil {
		return nil, nil, err
	}

	user, err := d.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	plan := LimitsFor("")
	if user != nil {
		plan = LimitsFor(user.PackageID)
	}
	if len(groupIDs) > plan.MaxGroups {
		return nil, nil, &entities.GroupLimitError{Requested: len(groupIDs), Max: plan.MaxGroups, PlanID: plan.ID}
	}

	run := &entities.BatchRun{
		ID:         uuid.NewString(),
		UserID:     userID,
		PropertyID: propertyID,
		GroupIDs:   append([]string(nil), groupIDs...),
		Status:     entities.BatchQueued,
		Outcomes:   make(map[string]entities.Outcome, len(groupIDs)),
		CreatedAt:  d.now(),
	}
	if err := d.Batches.Save(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("save batch: %w", err)
	}

	bctx, cancel := context.WithCancel(context.Background())
	tracked := &trackedBatch{userID: userID, cancel: cancel, done: make(chan struct{})}
	d.mu.Lock()
	d.running[run.ID] = tracked
	d.mu.Unlock()

	queued := *run
	queued.GroupIDs = append([]string(nil), run.GroupIDs...)
	queued.Outcomes = map[string]entities.Outcome{}
	ahead := d.Queue.Submit(userID, func() {
		defer cancel()
		tracked.result = d.execute(bctx, run)
		d.mu.Lock()
		delete(d.running, run.ID)
		d.mu.Unlock()
		close(tracked.done)
	})
	d.log.Info().Str("batch_id", run.ID).Int("user_id", userID).Int("groups", len(groupIDs)).
		Int("ahead", ahead).Msg("batch queued")
	return &queued, tracked, nil
}

// execute posts the batch group by group, in submission order.
func (d *BatchDispatcher) execute(ctx context.Context, run *entities.BatchRun) *entities.BatchResult {
	log := d.log.With().Str("batch_id", run.ID).Int("user_id", run.UserID).Logger()
	// Bookkeeping must finish even after cancellation.
	bg := context.WithoutCancel(ctx)

	result := &entities.BatchResult{BatchID: run.ID, PropertyID: run.PropertyID}
	run.Status = entities.BatchRunning
	d.saveRun(bg, run, log)

	// The batch may have been cancelled, or the session dropped, while queued.
	stop := entities.Outcome("")
	if ctx.Err() != nil {
		stop = entities.OutcomeCancelled
	} else if err := d.Sessions.Require(run.UserID); err != nil {
		stop = entities.OutcomeNotConnected
		run.Error = err.Error()
	} else if err := d.Ledger.RecordRun(bg, run.UserID); err != nil {
		log.Error().Err(err).Msg("record automation run")
	}

	caption := d.caption(bg, run, log)
	names := d.groupNames(bg, run.UserID, log)

	var failure error
	for _, groupID := range run.GroupIDs {
		name := names[groupID]
		if name == "" {
			name = groupID
		}
		if stop == "" && ctx.Err() != nil {
			stop = entities.OutcomeCancelled
		}
		if stop != "" {
			d.tally(run, result, entities.GroupResult{GroupID: groupID, GroupName: name, Outcome: stop})
			continue
		}

		g, next, err := d.dispatchOne(ctx, run, groupID, name, caption, log)
		if err != nil {
			failure = err
			stop = entities.OutcomeCancelled
			log.Error().Err(err).Str("group_id", groupID).Msg("batch aborted")
		}
		d.tally(run, result, g)
		if next != "" {
			stop = next
		}
	}

	switch {
	case failure != nil:
		run.Status = entities.BatchAborted
		run.Error = failure.Error()
	case stop == entities.OutcomeCancelled:
		run.Status = entities.BatchCancelled
	case stop == entities.OutcomeNotConnected && result.Counts == (entities.BatchCounts{}):
		run.Status = entities.BatchAborted
	case stop != "":
		run.Status = entities.BatchPartial
	default:
		run.Status = entities.BatchCompleted
	}

	completed := d.now()
	run.CompletedAt = &completed
	result.Status = run.Status
	result.CompletedAt = completed
	d.saveRun(bg, run, log)

	log.Info().Str("status", string(run.Status)).Int("success", result.Counts.Success).
		Int("failed", result.Counts.Failed).Int("skipped", result.Counts.Skipped).
		Int("remaining", len(result.Remaining)).Msg("batch finished")
	return result
}

// dispatchOne handles a single group. next is the marker for the groups after
// this one when the batch has to stop; err aborts the batch.
func (d *BatchDispatcher) dispatchOne(ctx context.Context, run *entities.BatchRun, groupID, name, caption string, log zerolog.Logger) (g entities.GroupResult, next entities.Outcome, err error) {
	bg := context.WithoutCancel(ctx)
	g = entities.GroupResult{GroupID: groupID, GroupName: name}

	dup, err := d.Guard.AlreadyPosted(bg, run.UserID, run.PropertyID, groupID)
	if err != nil {
		g.Outcome = entities.OutcomeCancelled
		return g, "", err
	}

	if !dup && d.Throttle != nil {
		if err := d.Throttle.Wait(ctx, run.UserID); err != nil {
			g.Outcome = entities.OutcomeCancelled
			return g, entities.OutcomeCancelled, nil
		}
	}

	reservation, err := d.Ledger.Reserve(bg, run.UserID, 1)
	if errors.Is(err, entities.ErrQuotaExceeded) {
		g.Outcome = entities.OutcomeQuotaExceeded
		return g, entities.OutcomeQuotaExceeded, nil
	}
	if err != nil {
		g.Outcome = entities.OutcomeCancelled
		return g, "", err
	}

	if dup {
		g.Outcome = entities.OutcomeSkippedDuplicate
		return g, "", d.settle(bg, run, reservation, g, log)
	}

	// Last cancellation point before the side effect.
	if ctx.Err() != nil {
		if err := d.Ledger.Release(bg, reservation); err != nil {
			log.Error().Err(err).Msg("release reservation")
		}
		g.Outcome = entities.OutcomeCancelled
		return g, entities.OutcomeCancelled, nil
	}

	postErr := d.Poster.Post(bg, interfaces.PostRequest{
		UserID:     run.UserID,
		PropertyID: run.PropertyID,
		GroupID:    groupID,
		Caption:    caption,
	})
	g.Outcome = entities.OutcomeSuccess
	if postErr != nil {
		g.Outcome = entities.OutcomeFailed
		g.Error = postErr.Error()
		log.Warn().Err(postErr).Str("group_id", groupID).Msg("post failed")
	}
	if err := d.settle(bg, run, reservation, g, log); err != nil {
		return g, "", err
	}

	if errors.Is(postErr, entities.ErrSessionExpired) {
		d.Sessions.MarkExpired(run.UserID)
		return g, entities.OutcomeNotConnected, nil
	}
	return g, "", nil
}

// settle converts the slot and appends the history record, in that order.
func (d *BatchDispatcher) settle(ctx context.Context, run *entities.BatchRun, r *entities.Reservation, g entities.GroupResult, log zerolog.Logger) error {
	if err := d.Ledger.Settle(ctx, r, g.Outcome); err != nil {
		return err
	}
	attempt := &entities.PostingAttempt{
		ID:          uuid.NewString(),
		UserID:      run.UserID,
		PropertyID:  run.PropertyID,
		GroupID:     g.GroupID,
		GroupName:   g.GroupName,
		BatchID:     run.ID,
		Outcome:     g.Outcome,
		ErrorDetail: g.Error,
		Timestamp:   d.now(),
	}
	if err := d.Attempts.Append(ctx, attempt); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	log.Debug().Str("group_id", g.GroupID).Str("outcome", string(g.Outcome)).Msg("group settled")
	return nil
}

func (d *BatchDispatcher) tally(run *entities.BatchRun, result *entities.BatchResult, g entities.GroupResult) {
	run.Outcomes[g.GroupID] = g.Outcome
	result.Tally(g)
}

func (d *BatchDispatcher) saveRun(ctx context.Context, run *entities.BatchRun, log zerolog.Logger) {
	if err := d.Batches.Save(ctx, run); err != nil {
		log.Error().Err(err).Str("status", string(run.Status)).Msg("save batch")
	}
}

func (d *BatchDispatcher) caption(ctx context.Context, run *entities.BatchRun, log zerolog.Logger) string {
	if d.Captions == nil {
		return ""
	}
	caption, err := d.Captions.Caption(ctx, run.UserID, run.PropertyID)
	if err != nil {
		log.Warn().Err(err).Msg("caption lookup failed, posting without caption")
		return ""
	}
	return caption
}

func (d *BatchDispatcher) groupNames(ctx context.Context, userID int, log zerolog.Logger) map[string]string {
	names := map[string]string{}
	if d.Groups == nil {
		return names
	}
	groups, err := d.Groups.List(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("group directory lookup failed")
		return names
	}
	for _, g := range groups {
		names[g.GroupID] = g.Name
	}
	return names
}
