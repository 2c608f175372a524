package infrastructure

import "sync"

// RunQueue runs jobs one at a time per user, in submission order. Jobs of
// different users run in parallel. A user's lane goroutine exits once its
// queue drains.
type RunQueue struct {
	mu    sync.Mutex
	lanes map[int]*lane
	wg    sync.WaitGroup
}

type lane struct {
	jobs    []func()
	running bool // drain goroutine alive
	active  bool // a popped job is executing
}

func NewRunQueue() *RunQueue {
	return &RunQueue{lanes: make(map[int]*lane)}
}

// Submit queues job behind the user's earlier jobs and returns immediately.
// It returns the number of jobs ahead of this one.
func (q *RunQueue) Submit(userID int, job func()) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.lanes[userID]
	if !ok {
		l = &lane{}
		q.lanes[userID] = l
	}
	ahead := l.depth()
	l.jobs = append(l.jobs, job)

	if !l.running {
		l.running = true
		q.wg.Add(1)
		go q.drain(userID, l)
	}
	return ahead
}

func (q *RunQueue) drain(userID int, l *lane) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(l.jobs) == 0 {
			l.running = false
			l.active = false
			delete(q.lanes, userID)
			q.mu.Unlock()
			return
		}
		job := l.jobs[0]
		l.jobs[0] = nil
		l.jobs = l.jobs[1:]
		l.active = true
		q.mu.Unlock()

		job()
	}
}

// Pending returns queued plus running jobs for a user
func (q *RunQueue) Pending(userID int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[userID]
	if !ok {
		return 0
	}
	return l.depth()
}

// depth counts waiting jobs plus the executing one. Caller holds q.mu.
func (l *lane) depth() int {
	n := len(l.jobs)
	if l.active {
		n++
	}
	return n
}

// Wait blocks until every lane has drained (for graceful shutdown).
func (q *RunQueue) Wait() {
	q.wg.Wait()
}
