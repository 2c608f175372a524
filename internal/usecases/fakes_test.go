package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
	"github.com/faztycoding/grandstate/internal/infrastructure"
	"github.com/faztycoding/grandstate/internal/interfaces"
	"github.com/faztycoding/grandstate/internal/repository"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeDriver succeeds unless an error is set. When gate is non-nil every call
// signals entered and then blocks until gate is closed.
type fakeDriver struct {
	mu         sync.Mutex
	calls      map[string]int
	connectErr error
	confirmErr error
	autoErr    error
	discErr    error
	gate       chan struct{}
	entered    chan struct{}
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{calls: map[string]int{}}
}

func (d *fakeDriver) enter(name string) {
	d.mu.Lock()
	d.calls[name]++
	gate, entered := d.gate, d.entered
	d.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
}

func (d *fakeDriver) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}

func (d *fakeDriver) Connect(ctx context.Context, userID int) error {
	d.enter("connect")
	return d.connectErr
}

func (d *fakeDriver) ConfirmLogin(ctx context.Context, userID int) (entities.Identity, error) {
	d.enter("confirm")
	if d.confirmErr != nil {
		return entities.Identity{}, d.confirmErr
	}
	return entities.Identity{Name: "Rina Agent"}, nil
}

func (d *fakeDriver) AutoLogin(ctx context.Context, userID int, creds entities.Credentials) (entities.Identity, error) {
	d.enter("auto")
	if d.autoErr != nil {
		return entities.Identity{}, d.autoErr
	}
	return entities.Identity{Name: creds.Email}, nil
}

func (d *fakeDriver) Disconnect(ctx context.Context, userID int) error {
	d.enter("disconnect")
	return d.discErr
}

// fakePoster records posts in order. failures maps a group id to the error
// its post returns. When gate is set the first post signals started and
// waits for the gate.
type fakePoster struct {
	mu       sync.Mutex
	posts    []interfaces.PostRequest
	failures map[string]error
	gate     chan struct{}
	started  chan struct{}
	once     sync.Once
}

func (p *fakePoster) Post(ctx context.Context, req interfaces.PostRequest) error {
	if p.gate != nil {
		first := false
		p.once.Do(func() { first = true })
		if first {
			p.started <- struct{}{}
			<-p.gate
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, req)
	return p.failures[req.GroupID]
}

func (p *fakePoster) groups() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.posts))
	for i, req := range p.posts {
		out[i] = req.GroupID
	}
	return out
}

// failingAttempts breaks history writes after ok successful appends.
type failingAttempts struct {
	*repository.MemoryAttemptStore
	mu sync.Mutex
	ok int
}

func (f *failingAttempts) Append(ctx context.Context, a *entities.PostingAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ok <= 0 {
		return errors.New("disk full")
	}
	f.ok--
	return f.MemoryAttemptStore.Append(ctx, a)
}

type fixture struct {
	t          *testing.T
	clock      *fakeClock
	users      *repository.MemoryUserStore
	quotas     *repository.MemoryQuotaStore
	attempts   interfaces.AttemptStore
	batches    *repository.MemoryBatchStore
	groups     *repository.MemoryGroupStore
	properties *repository.MemoryPropertyStore
	ledger     *QuotaLedger
	driver     *fakeDriver
	sessions   *SessionRegistry
	poster     *fakePoster
	queue      *infrastructure.RunQueue
	dispatcher *BatchDispatcher
}

const testUser = 1

// 10:00 in Jakarta
var testStart = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

func jakarta(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func newFixture(t *testing.T, plan string) *fixture {
	return newFixtureWith(t, plan, nil)
}

func newFixtureWith(t *testing.T, plan string, attempts interfaces.AttemptStore) *fixture {
	t.Helper()
	jakarta(t)

	f := &fixture{
		t:          t,
		clock:      &fakeClock{now: testStart},
		users:      repository.NewMemoryUserStore(),
		quotas:     repository.NewMemoryQuotaStore(),
		attempts:   attempts,
		batches:    repository.NewMemoryBatchStore(),
		groups:     repository.NewMemoryGroupStore(),
		properties: repository.NewMemoryPropertyStore(),
		driver:     newFakeDriver(),
		poster:     &fakePoster{failures: map[string]error{}},
		queue:      infrastructure.NewRunQueue(),
	}
	if f.attempts == nil {
		f.attempts = repository.NewMemoryAttemptStore()
	}
	ctx := context.Background()
	err := f.users.Create(ctx, &entities.User{
		ID: testUser, Username: "rina", PackageID: plan, Timezone: "Asia/Jakarta", IsActive: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	log := zerolog.Nop()
	f.ledger = NewQuotaLedger(f.quotas, f.users, time.UTC, log)
	f.ledger.now = f.clock.Now
	f.sessions = NewSessionRegistry(f.driver, log)
	f.sessions.now = f.clock.Now
	f.dispatcher = NewBatchDispatcher(DispatcherDeps{
		Ledger:   f.ledger,
		Guard:    NewDuplicateGuard(f.attempts),
		Sessions: f.sessions,
		Poster:   f.poster,
		Users:    f.users,
		Batches:  f.batches,
		Attempts: f.attempts,
		Groups:   f.groups,
		Captions: f.properties,
		Queue:    f.queue,
		Log:      log,
	})
	f.dispatcher.now = f.clock.Now
	return f
}

func (f *fixture) connect() {
	f.t.Helper()
	if _, err := f.sessions.AutoLogin(context.Background(), testUser, entities.Credentials{Email: "rina@example.com", Password: "pw"}); err != nil {
		f.t.Fatalf("AutoLogin: %v", err)
	}
}

func (f *fixture) quota() entities.DailyQuota {
	f.t.Helper()
	q, err := f.ledger.CurrentQuota(context.Background(), testUser)
	if err != nil {
		f.t.Fatalf("CurrentQuota: %v", err)
	}
	return q
}

// seedQuota stores today's record with the given limit and settled successes.
func (f *fixture) seedQuota(limit, success int) {
	f.t.Helper()
	q := f.quota()
	q.Limit = limit
	q.PostsCount = success
	q.SuccessCount = success
	if err := f.quotas.Save(context.Background(), &q); err != nil {
		f.t.Fatalf("seed quota: %v", err)
	}
}

func (f *fixture) history() []entities.PostingAttempt {
	f.t.Helper()
	list, err := f.attempts.List(context.Background(), testUser, "", 0)
	if err != nil {
		f.t.Fatalf("List attempts: %v", err)
	}
	return list
}

func assertInvariant(t *testing.T, q entities.DailyQuota) {
	t.Helper()
	if q.PostsCount != q.SuccessCount+q.FailedCount+q.SkippedDuplicateCount {
		t.Errorf("posts_count %d != success %d + failed %d + skipped %d",
			q.PostsCount, q.SuccessCount, q.FailedCount, q.SkippedDuplicateCount)
	}
	if q.PostsCount+q.Pending > q.Limit {
		t.Errorf("posts_count %d + pending %d exceeds limit %d", q.PostsCount, q.Pending, q.Limit)
	}
}
