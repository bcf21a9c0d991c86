package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, opts ...MemoryOption) *MemoryQueue {
	t.Helper()
	q := NewMemoryQueue(append([]MemoryOption{WithTick(10 * time.Millisecond)}, opts...)...)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func testItem(key string) Item {
	return Item{
		Key: key,
		Payload: Payload{
			ProductID:   "prod-1",
			Prompt:      "test",
			InputAssets: []string{"https://img.example.com/1.png"},
		},
	}
}

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := newTestQueue(t)

	if err := q.Enqueue(context.Background(), testItem("gen-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Key != "gen-1" {
		t.Errorf("expected key gen-1, got %s", item.Key)
	}
	if item.Attempt != 1 {
		t.Errorf("expected attempt 1 on first claim, got %d", item.Attempt)
	}
}

func TestMemoryQueue_EnqueueIsIdempotent(t *testing.T) {
	q := newTestQueue(t)

	if err := q.Enqueue(context.Background(), testItem("gen-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Enqueue(context.Background(), testItem("gen-1"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Only one item is actually dispatched.
	stats, _ := q.Stats(context.Background())
	if stats.Waiting != 1 {
		t.Errorf("expected 1 waiting item, got %d", stats.Waiting)
	}
}

func TestMemoryQueue_DequeueIsExclusive(t *testing.T) {
	q := newTestQueue(t)
	_ = q.Enqueue(context.Background(), testItem("gen-1"))

	if _, err := q.Dequeue(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second dequeue must not see the claimed key.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected timeout on empty queue, got %v", err)
	}
}

func TestMemoryQueue_AckFinishesItem(t *testing.T) {
	q := newTestQueue(t)
	_ = q.Enqueue(context.Background(), testItem("gen-1"))
	_, _ = q.Dequeue(context.Background())

	if err := q.Ack(context.Background(), "gen-1", ResultCompleted, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, _ := q.Stats(context.Background())
	if stats.Active != 0 || stats.Waiting != 0 {
		t.Errorf("expected empty queue, got %+v", stats)
	}
	if stats.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", stats.Completed)
	}

	// The key is reusable after completion.
	if err := q.Enqueue(context.Background(), testItem("gen-1")); err != nil {
		t.Errorf("expected re-enqueue after ack to succeed, got %v", err)
	}
}

func TestMemoryQueue_AckUnclaimed(t *testing.T) {
	q := newTestQueue(t)
	_ = q.Enqueue(context.Background(), testItem("gen-1"))

	err := q.Ack(context.Background(), "gen-1", ResultCompleted, "")
	if !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestMemoryQueue_RetryRedelivers(t *testing.T) {
	q := newTestQueue(t)
	_ = q.Enqueue(context.Background(), testItem("gen-1"))
	_, _ = q.Dequeue(context.Background())

	if err := q.Retry(context.Background(), "gen-1", 20*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("expected redelivery, got %v", err)
	}
	if item.Attempt != 2 {
		t.Errorf("expected attempt 2 after retry, got %d", item.Attempt)
	}
}

func TestMemoryQueue_RemoveQueuedItem(t *testing.T) {
	q := newTestQueue(t)
	_ = q.Enqueue(context.Background(), testItem("gen-1"))

	removed, err := q.Remove(context.Background(), "gen-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !removed {
		t.Fatal("expected queued item to be removed")
	}

	// The removed key is never delivered.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected no delivery after remove, got %v", err)
	}
}

func TestMemoryQueue_RemoveActiveItem(t *testing.T) {
	q := newTestQueue(t)
	_ = q.Enqueue(context.Background(), testItem("gen-1"))
	_, _ = q.Dequeue(context.Background())

	removed, err := q.Remove(context.Background(), "gen-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed {
		t.Error("expected active item to be left to its worker")
	}
}

func TestMemoryQueue_RetentionCaps(t *testing.T) {
	q := newTestQueue(t, WithRetention(Retention{MaxCompleted: 2, MaxFailed: 2, MaxAge: time.Hour}))

	for _, key := range []string{"a", "b", "c"} {
		_ = q.Enqueue(context.Background(), testItem(key))
		_, _ = q.Dequeue(context.Background())
		_ = q.Ack(context.Background(), key, ResultCompleted, "")
	}

	finished := q.Finished()
	if len(finished) != 2 {
		t.Fatalf("expected retention to keep 2 items, got %d", len(finished))
	}
	// The most recent outcomes survive.
	if finished[0].Key != "b" || finished[1].Key != "c" {
		t.Errorf("expected newest items kept, got %s, %s", finished[0].Key, finished[1].Key)
	}

	// Totals are not affected by retention trimming.
	stats, _ := q.Stats(context.Background())
	if stats.Completed != 3 {
		t.Errorf("expected completed total 3, got %d", stats.Completed)
	}
}

func TestMemoryQueue_CloseStopsDequeue(t *testing.T) {
	q := NewMemoryQueue()
	_ = q.Close()

	_, err := q.Dequeue(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected Close to be idempotent, got %v", err)
	}
}
