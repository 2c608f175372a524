package repository

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/faztycoding/grandstate/internal/entities"
)

// In-memory stores back the service when no DATABASE_URL is configured and
// serve as fixtures in tests. All methods return copies.

type MemoryUserStore struct {
	mu     sync.RWMutex
	nextID int
	users  map[int]*entities.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[int]*entities.User)}
}

func (s *MemoryUserStore) Create(ctx context.Context, user *entities.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, user.Username) {
			return ErrDuplicateUsername
		}
	}
	if user.ID == 0 {
		s.nextID++
		user.ID = s.nextID
	} else if user.ID > s.nextID {
		s.nextID = user.ID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	u := *user
	s.users[u.ID] = &u
	return nil
}

func (s *MemoryUserStore) GetByID(ctx context.Context, id int) (*entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (s *MemoryUserStore) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (s *MemoryUserStore) UpdatePackage(ctx context.Context, id int, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return entities.ErrUserNotFound
	}
	u.PackageID = packageID
	return nil
}

func (s *MemoryUserStore) UpdateStatus(ctx context.Context, id int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return entities.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func (s *MemoryUserStore) List(ctx context.Context) ([]entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]entities.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

type quotaKey struct {
	userID int
	day    string
}

type MemoryQuotaStore struct {
	mu      sync.RWMutex
	records map[quotaKey]entities.DailyQuota
}

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{records: make(map[quotaKey]entities.DailyQuota)}
}

func (s *MemoryQuotaStore) Latest(ctx context.Context, userID int) (*entities.DailyQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *entities.DailyQuota
	for k, q := range s.records {
		if k.userID != userID {
			continue
		}
		if latest == nil || q.ResetAt.After(latest.ResetAt) {
			c := q
			latest = &c
		}
	}
	return latest, nil
}

func (s *MemoryQuotaStore) Get(ctx context.Context, userID int, day string) (*entities.DailyQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.records[quotaKey{userID, day}]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (s *MemoryQuotaStore) Save(ctx context.Context, q *entities.DailyQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[quotaKey{q.UserID, q.Day}] = *q
	return nil
}

func (s *MemoryQuotaStore) ClearPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, q := range s.records {
		if q.Pending > 0 {
			q.Pending = 0
			s.records[k] = q
			n++
		}
	}
	return n, nil
}

type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts []entities.PostingAttempt
	posted   map[string]struct{}
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{posted: make(map[string]struct{})}
}

func postedKey(userID int, propertyID, groupID string) string {
	return strings.Join([]string{strconv.Itoa(userID), propertyID, groupID}, "\x00")
}

func (s *MemoryAttemptStore) Append(ctx context.Context, a *entities.PostingAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	if a.Outcome == entities.OutcomeSuccess {
		s.posted[postedKey(a.UserID, a.PropertyID, a.GroupID)] = struct{}{}
	}
	return nil
}

func (s *MemoryAttemptStore) HasSuccess(ctx context.Context, userID int, propertyID, groupID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.posted[postedKey(userID, propertyID, groupID)]
	return ok, nil
}

func (s *MemoryAttemptStore) List(ctx context.Context, userID int, propertyID string, limit int) ([]entities.PostingAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entities.PostingAttempt{}
	// Appends happen in time order, so walking backwards is newest first.
	for i := len(s.attempts) - 1; i >= 0; i-- {
		a := s.attempts[i]
		if a.UserID != userID || (propertyID != "" && a.PropertyID != propertyID) {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type MemoryBatchStore struct {
	mu      sync.RWMutex
	batches map[string]entities.BatchRun
}

func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{batches: make(map[string]entities.BatchRun)}
}

func cloneBatch(b entities.BatchRun) entities.BatchRun {
	b.GroupIDs = append([]string(nil), b.GroupIDs...)
	outcomes := make(map[string]entities.Outcome, len(b.Outcomes))
	for k, v := range b.Outcomes {
		outcomes[k] = v
	}
	b.Outcomes = outcomes
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		b.CompletedAt = &t
	}
	return b
}

func (s *MemoryBatchStore) Save(ctx context.Context, b *entities.BatchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (s *MemoryBatchStore) Get(ctx context.Context, id string) (*entities.BatchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, entities.ErrBatchNotFound
	}
	c := cloneBatch(b)
	return &c, nil
}

func (s *MemoryBatchStore) ListSince(ctx context.Context, userID int, since time.Time) ([]entities.BatchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entities.BatchRun{}
	for _, b := range s.batches {
		if b.UserID == userID && !b.CreatedAt.Before(since) {
			out = append(out, cloneBatch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type MemoryGroupStore struct {
	mu     sync.RWMutex
	groups map[int][]entities.Group
}

func NewMemoryGroupStore() *MemoryGroupStore {
	return &MemoryGroupStore{groups: make(map[int][]entities.Group)}
}

func (s *MemoryGroupStore) Upsert(ctx context.Context, g *entities.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.groups[g.UserID]
	for i := range list {
		if list[i].GroupID == g.GroupID {
			list[i].Name = g.Name
			return nil
		}
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	s.groups[g.UserID] = append(list, *g)
	return nil
}

func (s *MemoryGroupStore) Delete(ctx context.Context, userID int, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.groups[userID]
	for i := range list {
		if list[i].GroupID == groupID {
			s.groups[userID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryGroupStore) List(ctx context.Context, userID int) ([]entities.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.Group{}, s.groups[userID]...), nil
}

type MemoryPropertyStore struct {
	mu         sync.RWMutex
	properties map[string]entities.Property
}

func NewMemoryPropertyStore() *MemoryPropertyStore {
	return &MemoryPropertyStore{properties: make(map[string]entities.Property)}
}

func (s *MemoryPropertyStore) Upsert(ctx context.Context, p *entities.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.properties[p.ID]; ok && existing.UserID != p.UserID {
		return ErrPropertyOwner
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.properties[p.ID] = *p
	return nil
}

func (s *MemoryPropertyStore) Get(ctx context.Context, userID int, id string) (*entities.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[id]
	if !ok || p.UserID != userID {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryPropertyStore) List(ctx context.Context, userID int) ([]entities.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entities.Property{}
	for _, p := range s.properties {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryPropertyStore) Count(ctx context.Context, userID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.properties {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryPropertyStore) Caption(ctx context.Context, userID int, propertyID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[propertyID]
	if !ok || p.UserID != userID {
		return "", nil
	}
	return p.Caption, nil
}
