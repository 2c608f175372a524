package usecases

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/repository"
)

const testProperty = "P-1"

func groupIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("g%d", i+1)
	}
	return ids
}

func (f *fixture) submit(groups ...string) *entities.BatchResult {
	f.t.Helper()
	res, err := f.dispatcher.SubmitBatch(context.Background(), testUser, testProperty, groups)
	if err != nil {
		f.t.Fatalf("SubmitBatch: %v", err)
	}
	return res
}

func outcomesOf(res *entities.BatchResult) []entities.Outcome {
	out := make([]entities.Outcome, len(res.Groups))
	for i, g := range res.Groups {
		out[i] = g.Outcome
	}
	return out
}

func TestSubmitBatchPostsEveryGroup(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	ctx := context.Background()
	_ = f.properties.Upsert(ctx, &entities.Property{ID: testProperty, UserID: testUser, Caption: "Villa 3BR, Canggu"})
	_ = f.groups.Upsert(ctx, &entities.Group{UserID: testUser, GroupID: "g2", Name: "Bali Property Hub"})

	before := f.quota().PostsCount
	res := f.submit("g1", "g2", "g3")

	if res.Counts != (entities.BatchCounts{Success: 3}) {
		t.Errorf("counts = %+v, want 3 successes", res.Counts)
	}
	if res.Status != entities.BatchCompleted || len(res.Remaining) != 0 || res.QuotaExceeded {
		t.Errorf("result = %+v", res)
	}
	q := f.quota()
	if q.PostsCount-before != 3 {
		t.Errorf("posts_count grew by %d, want 3", q.PostsCount-before)
	}
	assertInvariant(t, q)
	if q.AutomationRunsCount != 1 {
		t.Errorf("automation runs = %d, want 1", q.AutomationRunsCount)
	}

	if got := f.poster.groups(); !reflect.DeepEqual(got, []string{"g1", "g2", "g3"}) {
		t.Errorf("posted to %v", got)
	}
	if f.poster.posts[0].Caption != "Villa 3BR, Canggu" {
		t.Errorf("caption = %q", f.poster.posts[0].Caption)
	}
	if res.Groups[1].GroupName != "Bali Property Hub" || res.Groups[0].GroupName != "g1" {
		t.Errorf("group names = %q, %q", res.Groups[0].GroupName, res.Groups[1].GroupName)
	}

	history := f.history()
	if len(history) != 3 {
		t.Fatalf("history has %d attempts, want 3", len(history))
	}
	for _, a := range history {
		if a.BatchID != res.BatchID || a.Outcome != entities.OutcomeSuccess || a.PropertyID != testProperty {
			t.Errorf("attempt = %+v", a)
		}
	}

	stored, err := f.dispatcher.Batch(ctx, testUser, res.BatchID)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if stored.Status != entities.BatchCompleted || stored.SuccessCount() != 3 || stored.CompletedAt == nil {
		t.Errorf("stored batch = %+v", stored)
	}
}

func TestSubmitBatchRequiresConnectedSession(t *testing.T) {
	f := newFixture(t, entities.PlanFree)

	_, err := f.dispatcher.SubmitBatch(context.Background(), testUser, testProperty, []string{"g1"})
	if !errors.Is(err, entities.ErrNotConnected) {
		t.Fatalf("SubmitBatch = %v, want ErrNotConnected", err)
	}
	if q := f.quota(); q.PostsCount != 0 || q.Pending != 0 {
		t.Errorf("quota changed: %+v", q)
	}
	if len(f.poster.groups()) != 0 || len(f.history()) != 0 {
		t.Error("rejected batch had side effects")
	}
}

func TestSubmitBatchEnforcesGroupLimit(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()

	_, err := f.dispatcher.SubmitBatch(context.Background(), testUser, testProperty, groupIDs(11))
	var gl *entities.GroupLimitError
	if !errors.As(err, &gl) {
		t.Fatalf("SubmitBatch = %v, want GroupLimitError", err)
	}
	if gl.Max != 10 || gl.Requested != 11 || gl.PlanID != entities.PlanFree {
		t.Errorf("limit error = %+v", gl)
	}
	if !errors.Is(err, entities.ErrGroupLimitExceeded) {
		t.Error("does not match ErrGroupLimitExceeded")
	}
	if q := f.quota(); q.PostsCount != 0 {
		t.Errorf("posts_count = %d", q.PostsCount)
	}
}

func TestSubmitBatchRejectsMalformedSelections(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	ctx := context.Background()

	tests := []struct {
		name     string
		property string
		groups   []string
	}{
		{"no groups", testProperty, nil},
		{"blank group", testProperty, []string{"g1", " "}},
		{"repeated group", testProperty, []string{"g1", "g2", "g1"}},
		{"no property", "", []string{"g1"}},
	}
	for _, tt := range tests {
		if _, err := f.dispatcher.SubmitBatch(ctx, testUser, tt.property, tt.groups); !errors.Is(err, entities.ErrInvalidBatch) {
			t.Errorf("%s: err = %v, want ErrInvalidBatch", tt.name, err)
		}
	}
}

func TestQuotaExhaustionTruncatesBatch(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	f.seedQuota(2, 0)

	res := f.submit(groupIDs(5)...)

	want := []entities.Outcome{
		entities.OutcomeSuccess, entities.OutcomeSuccess,
		entities.OutcomeQuotaExceeded, entities.OutcomeQuotaExceeded, entities.OutcomeQuotaExceeded,
	}
	if got := outcomesOf(res); !reflect.DeepEqual(got, want) {
		t.Errorf("outcomes = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(res.Remaining, []string{"g3", "g4", "g5"}) {
		t.Errorf("remaining = %v", res.Remaining)
	}
	if !res.QuotaExceeded || res.Status != entities.BatchPartial {
		t.Errorf("result = %+v", res)
	}
	if got := len(f.poster.groups()); got != 2 {
		t.Errorf("poster called %d times, want 2", got)
	}
	q := f.quota()
	if q.PostsCount != 2 || q.Pending != 0 {
		t.Errorf("quota = %+v", q)
	}
	assertInvariant(t, q)
}

func TestFullQuotaMarksEveryGroup(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	f.seedQuota(20, 20)

	res := f.submit("g1", "g2", "g3")

	for _, g := range res.Groups {
		if g.Outcome != entities.OutcomeQuotaExceeded {
			t.Errorf("%s outcome = %s, want quota_exceeded", g.GroupID, g.Outcome)
		}
	}
	if len(res.Remaining) != 3 || !res.QuotaExceeded {
		t.Errorf("result = %+v", res)
	}
	if len(f.history()) != 0 || len(f.poster.groups()) != 0 {
		t.Error("attempts were created at 20/20")
	}
	if q := f.quota(); q.PostsCount != 20 {
		t.Errorf("posts_count = %d, want 20", q.PostsCount)
	}
}

func TestDuplicatesAreSkippedAndCounted(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	f.poster.failures["g3"] = &entities.PostError{GroupID: "g3", Reason: "rejected"}

	f.submit("g1", "g3")
	delete(f.poster.failures, "g3")
	res := f.submit("g1", "g2", "g3")

	want := []entities.Outcome{entities.OutcomeSkippedDuplicate, entities.OutcomeSuccess, entities.OutcomeSuccess}
	if got := outcomesOf(res); !reflect.DeepEqual(got, want) {
		t.Errorf("outcomes = %v, want %v", got, want)
	}
	if res.Counts != (entities.BatchCounts{Success: 2, Skipped: 1}) {
		t.Errorf("counts = %+v", res.Counts)
	}
	// g1 once, g3 twice (first attempt failed)
	if got := f.poster.groups(); !reflect.DeepEqual(got, []string{"g1", "g3", "g2", "g3"}) {
		t.Errorf("posted to %v", got)
	}

	q := f.quota()
	if q.PostsCount != 5 || q.SkippedDuplicateCount != 1 || q.FailedCount != 1 || q.SuccessCount != 3 {
		t.Errorf("quota = %+v", q)
	}
	assertInvariant(t, q)

	posted, err := f.dispatcher.Guard.AlreadyPosted(context.Background(), testUser, testProperty, "g1")
	if err != nil || !posted {
		t.Errorf("AlreadyPosted(g1) = %v, %v", posted, err)
	}
	posted, _ = f.dispatcher.Guard.AlreadyPosted(context.Background(), testUser, "P-2", "g1")
	if posted {
		t.Error("another property counted as duplicate")
	}
}

func TestPostFailureDoesNotStopBatch(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	f.poster.failures["g2"] = &entities.PostError{GroupID: "g2", Reason: "group closed"}

	res := f.submit("g1", "g2", "g3")

	if res.Counts != (entities.BatchCounts{Success: 2, Failed: 1}) {
		t.Errorf("counts = %+v", res.Counts)
	}
	if res.Status != entities.BatchCompleted {
		t.Errorf("status = %s", res.Status)
	}
	if res.Groups[1].Error == "" {
		t.Error("failed group has no error detail")
	}
	history := f.history()
	if len(history) != 3 || history[1].Outcome != entities.OutcomeFailed || history[1].ErrorDetail == "" {
		t.Errorf("history = %+v", history)
	}
	assertInvariant(t, f.quota())
}

func TestSessionExpiryStopsBatch(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	f.poster.failures["g2"] = &entities.PostError{GroupID: "g2", Reason: "logged out", Err: entities.ErrSessionExpired}

	res := f.submit(groupIDs(4)...)

	want := []entities.Outcome{
		entities.OutcomeSuccess, entities.OutcomeFailed, entities.OutcomeNotConnected, entities.OutcomeNotConnected,
	}
	if got := outcomesOf(res); !reflect.DeepEqual(got, want) {
		t.Errorf("outcomes = %v, want %v", got, want)
	}
	if res.Status != entities.BatchPartial || !reflect.DeepEqual(res.Remaining, []string{"g3", "g4"}) {
		t.Errorf("result = %+v", res)
	}
	if got := f.sessions.State(testUser).Status; got != entities.SessionDisconnected {
		t.Errorf("session = %s, want disconnected", got)
	}
	if q := f.quota(); q.PostsCount != 2 || q.Pending != 0 {
		t.Errorf("quota = %+v", q)
	}
}

func TestStoreFailureAbortsBatch(t *testing.T) {
	attempts := &failingAttempts{MemoryAttemptStore: repository.NewMemoryAttemptStore(), ok: 1}
	f := newFixtureWith(t, entities.PlanFree, attempts)
	f.connect()

	res := f.submit("g1", "g2", "g3")

	want := []entities.Outcome{entities.OutcomeSuccess, entities.OutcomeSuccess, entities.OutcomeCancelled}
	if got := outcomesOf(res); !reflect.DeepEqual(got, want) {
		t.Errorf("outcomes = %v, want %v", got, want)
	}
	if res.Status != entities.BatchAborted {
		t.Errorf("status = %s, want aborted", res.Status)
	}
	stored, err := f.dispatcher.Batch(context.Background(), testUser, res.BatchID)
	if err != nil || stored.Error == "" {
		t.Errorf("stored batch = %+v, %v", stored, err)
	}
	if q := f.quota(); q.PostsCount != 2 || q.Pending != 0 {
		t.Errorf("quota = %+v", q)
	}
}

func TestCancelStopsBeforeNextGroup(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	f.poster.gate = make(chan struct{})
	f.poster.started = make(chan struct{}, 1)
	ctx := context.Background()

	run, err := f.dispatcher.Enqueue(ctx, testUser, testProperty, []string{"g1", "g2", "g3"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if run.Status != entities.BatchQueued {
		t.Errorf("queued status = %s", run.Status)
	}

	select {
	case <-f.poster.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first post never started")
	}
	if err := f.dispatcher.Cancel(ctx, testUser, run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(f.poster.gate)
	f.queue.Wait()

	stored, err := f.dispatcher.Batch(ctx, testUser, run.ID)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if stored.Status != entities.BatchCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
	wantOutcomes := map[string]entities.Outcome{
		"g1": entities.OutcomeSuccess, "g2": entities.OutcomeCancelled, "g3": entities.OutcomeCancelled,
	}
	if !reflect.DeepEqual(stored.Outcomes, wantOutcomes) {
		t.Errorf("outcomes = %v", stored.Outcomes)
	}
	if q := f.quota(); q.PostsCount != 1 || q.Pending != 0 {
		t.Errorf("quota = %+v", q)
	}

	// Finished batches cannot change; strangers cannot see them.
	if err := f.dispatcher.Cancel(ctx, testUser, run.ID); !errors.Is(err, entities.ErrBatchFinished) {
		t.Errorf("Cancel of finished batch = %v, want ErrBatchFinished", err)
	}
	if _, err := f.dispatcher.Batch(ctx, 2, run.ID); !errors.Is(err, entities.ErrBatchNotFound) {
		t.Errorf("Batch as other user = %v", err)
	}
	if err := f.dispatcher.Cancel(ctx, testUser, "missing"); !errors.Is(err, entities.ErrBatchNotFound) {
		t.Errorf("Cancel of unknown batch = %v", err)
	}
}

func TestBatchesOfOneUserRunInOrder(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	f.poster.gate = make(chan struct{})
	f.poster.started = make(chan struct{}, 1)
	ctx := context.Background()

	if _, err := f.dispatcher.Enqueue(ctx, testUser, testProperty, []string{"a1", "a2"}); err != nil {
		t.Fatalf("Enqueue A: %v", err)
	}
	<-f.poster.started
	if _, err := f.dispatcher.Enqueue(ctx, testUser, "P-2", []string{"b1"}); err != nil {
		t.Fatalf("Enqueue B: %v", err)
	}
	close(f.poster.gate)
	f.queue.Wait()

	if got := f.poster.groups(); !reflect.DeepEqual(got, []string{"a1", "a2", "b1"}) {
		t.Errorf("posted to %v, want a1 a2 b1", got)
	}
	if q := f.quota(); q.AutomationRunsCount != 2 || q.PostsCount != 3 {
		t.Errorf("quota = %+v", q)
	}
}

func TestQueuedBatchSeesDroppedSession(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	f.poster.gate = make(chan struct{})
	f.poster.started = make(chan struct{}, 1)
	ctx := context.Background()

	if _, err := f.dispatcher.Enqueue(ctx, testUser, testProperty, []string{"a1"}); err != nil {
		t.Fatalf("Enqueue A: %v", err)
	}
	<-f.poster.started
	second, err := f.dispatcher.Enqueue(ctx, testUser, "P-2", []string{"b1", "b2"})
	if err != nil {
		t.Fatalf("Enqueue B: %v", err)
	}
	f.sessions.MarkExpired(testUser)
	close(f.poster.gate)
	f.queue.Wait()

	stored, err := f.dispatcher.Batch(ctx, testUser, second.ID)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if stored.Status != entities.BatchAborted || stored.Outcomes["b1"] != entities.OutcomeNotConnected {
		t.Errorf("second batch = %+v", stored)
	}
	if got := f.poster.groups(); !reflect.DeepEqual(got, []string{"a1"}) {
		t.Errorf("posted to %v", got)
	}
}

func TestCancelWhileQueuedSkipsRun(t *testing.T) {
	f := newFixture(t, entities.PlanFree)
	f.connect()
	f.poster.gate = make(chan struct{})
	f.poster.started = make(chan struct{}, 1)
	ctx := context.Background()

	if _, err := f.dispatcher.Enqueue(ctx, testUser, testProperty, []string{"a1"}); err != nil {
		t.Fatalf("Enqueue A: %v", err)
	}
	<-f.poster.started
	second, err := f.dispatcher.Enqueue(ctx, testUser, "P-2", []string{"b1", "b2"})
	if err != nil {
		t.Fatalf("Enqueue B: %v", err)
	}
	if err := f.dispatcher.Cancel(ctx, testUser, second.ID); err != nil {
		t.Fatalf("Cancel queued batch: %v", err)
	}
	close(f.poster.gate)
	f.queue.Wait()

	stored, err := f.dispatcher.Batch(ctx, testUser, second.ID)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	want := map[string]entities.Outcome{"b1": entities.OutcomeCancelled, "b2": entities.OutcomeCancelled}
	if stored.Status != entities.BatchCancelled || !reflect.DeepEqual(stored.Outcomes, want) {
		t.Errorf("cancelled batch = %+v", stored)
	}
	if q := f.quota(); q.AutomationRunsCount != 1 || q.PostsCount != 1 {
		t.Errorf("quota = %+v, want one run and one post", q)
	}
	if got := f.poster.groups(); !reflect.DeepEqual(got, []string{"a1"}) {
		t.Errorf("posted to %v", got)
	}
}
