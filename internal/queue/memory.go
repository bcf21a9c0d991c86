package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Compile-time check that MemoryQueue implements Queue.
var _ Queue = (*MemoryQueue)(nil)

// ErrFull is returned by Enqueue when the in-memory dispatch buffer is
// exhausted.
var ErrFull = errors.New("queue: dispatch buffer full")

// Retention bounds how many finished work items are kept for operator
// inspection before being purged.
type Retention struct {
	MaxCompleted int
	MaxFailed    int
	MaxAge       time.Duration
}

// DefaultRetention keeps the last 100 completed and 500 failed items for
// up to 24 hours.
func DefaultRetention() Retention {
	return Retention{
		MaxCompleted: 100,
		MaxFailed:    500,
		MaxAge:       24 * time.Hour,
	}
}

type itemState int

const (
	statePending itemState = iota
	stateDelayed
	stateActive
)

type entry struct {
	item  Item
	state itemState
}

// MemoryQueue is an in-process Queue implementation: a dispatch channel
// for ready keys, a key-state map for dedupe and exclusive claims, and a
// ticker that releases delayed retries and purges retained history.
// Suitable for single-process deployments and tests; multi-process
// deployments use RedisQueue.
type MemoryQueue struct {
	mu       sync.Mutex
	items    map[string]*entry
	ready    chan string
	finished []finishedItem

	completedTotal int
	failedTotal    int

	retain Retention
	tick   time.Duration

	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithRetention overrides the finished-item retention policy.
func WithRetention(r Retention) MemoryOption {
	return func(q *MemoryQueue) {
		q.retain = r
	}
}

// WithTick overrides the scheduler tick, mainly to speed up tests.
func WithTick(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) {
		q.tick = d
	}
}

// NewMemoryQueue creates a running in-memory queue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		items:  make(map[string]*entry),
		ready:  make(chan string, 1024),
		retain: DefaultRetention(),
		tick:   250 * time.Millisecond,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.scheduler()
	return q
}

// Enqueue adds a work item, deduplicating on the correlation key.
func (q *MemoryQueue) Enqueue(_ context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, exists := q.items[item.Key]; exists {
		return ErrDuplicate
	}

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}

	e := &entry{item: item}
	if item.NotBefore.After(time.Now()) {
		e.state = stateDelayed
		q.items[item.Key] = e
		return nil
	}

	select {
	case q.ready <- item.Key:
		e.state = statePending
		q.items[item.Key] = e
		return nil
	default:
		return ErrFull
	}
}

// Dequeue blocks until an item is ready, claiming it exclusively.
// Keys whose items were removed while waiting in the dispatch channel
// are skipped, which is what makes Remove synchronous for queued items.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Item, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.stop:
			return nil, ErrClosed
		case key := <-q.ready:
			q.mu.Lock()
			e, ok := q.items[key]
			if !ok || e.state != statePending {
				q.mu.Unlock()
				continue
			}
			e.state = stateActive
			e.item.Attempt++
			claimed := e.item
			q.mu.Unlock()
			return &claimed, nil
		}
	}
}

// Ack finishes an active item and retains its outcome.
func (q *MemoryQueue) Ack(_ context.Context, key string, result Result, note string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[key]
	if !ok || e.state != stateActive {
		return ErrNotActive
	}
	delete(q.items, key)

	q.finished = append(q.finished, finishedItem{
		Key:        key,
		Result:     result,
		Note:       note,
		Attempt:    e.item.Attempt,
		FinishedAt: time.Now().UTC(),
	})
	switch result {
	case ResultCompleted:
		q.completedTotal++
	case ResultFailed:
		q.failedTotal++
	}
	q.trimFinishedLocked()
	return nil
}

// Retry returns an active item to the delayed set.
func (q *MemoryQueue) Retry(_ context.Context, key string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[key]
	if !ok || e.state != stateActive {
		return ErrNotActive
	}
	e.state = stateDelayed
	e.item.NotBefore = time.Now().Add(delay)
	return nil
}

// Remove discards a queued or delayed item. Active items are left to
// their worker and reported as not removed.
func (q *MemoryQueue) Remove(_ context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[key]
	if !ok || e.state == stateActive {
		return false, nil
	}
	delete(q.items, key)
	return true, nil
}

// Stats reports queue depth counters.
func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Completed: q.completedTotal, Failed: q.failedTotal}
	for _, e := range q.items {
		switch e.state {
		case stateActive:
			s.Active++
		default:
			s.Waiting++
		}
	}
	return s, nil
}

// Finished returns the retained finished items, newest last. Exposed for
// diagnostics and tests.
func (q *MemoryQueue) Finished() []finishedItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]finishedItem(nil), q.finished...)
}

// Close stops the scheduler. Pending items are dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stop)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// scheduler releases due delayed items and purges retained history.
func (q *MemoryQueue) scheduler() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveDue()
		}
	}
}

// moveDue promotes delayed items whose retry time has passed.
func (q *MemoryQueue) moveDue() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for key, e := range q.items {
		if e.state != stateDelayed || e.item.NotBefore.After(now) {
			continue
		}
		select {
		case q.ready <- key:
			e.state = statePending
		default:
			// Buffer full; the next tick will retry.
			return
		}
	}
	q.trimFinishedLocked()
}

// trimFinishedLocked applies the retention policy to finished items.
func (q *MemoryQueue) trimFinishedLocked() {
	cutoff := time.Now().Add(-q.retain.MaxAge)
	kept := make([]finishedItem, 0, len(q.finished))
	completed, failed := 0, 0
	// Walk newest to oldest so the caps keep the most recent entries.
	for i := len(q.finished) - 1; i >= 0; i-- {
		f := q.finished[i]
		if q.retain.MaxAge > 0 && f.FinishedAt.Before(cutoff) {
			continue
		}
		switch f.Result {
		case ResultCompleted:
			if completed >= q.retain.MaxCompleted {
				continue
			}
			completed++
		case ResultFailed:
			if failed >= q.retain.MaxFailed {
				continue
			}
			failed++
		}
		kept = append(kept, f)
	}
	// Restore chronological order.
	for i, k := 0, len(kept); i < k/2; i++ {
		kept[i], kept[k-1-i] = kept[k-1-i], kept[i]
	}
	q.finished = kept
}
