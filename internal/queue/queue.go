// Package queue provides the durable work queue that decouples job
// submission from long-running video generation. Work items are keyed by
// the GenerationJob identifier (the correlation key); the queue
// guarantees an exclusive claim per key, so no two workers ever execute
// the same job concurrently.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/stylemotion/catwalk-api/internal/provider"
)

// Static errors for queue operations.
var (
	// ErrDuplicate is returned by Enqueue when a work item with the same
	// correlation key is already queued or running. Enqueue is idempotent;
	// callers treat this as success.
	ErrDuplicate = errors.New("queue: work item already enqueued")
	// ErrNotActive is returned by Ack and Retry when the key has no
	// active claim, e.g. after a concurrent cancellation.
	ErrNotActive = errors.New("queue: work item is not active")
	// ErrClosed is returned when the queue has been shut down.
	ErrClosed = errors.New("queue: closed")
)

// Payload carries everything a worker needs to execute a generation job
// without reading the job record first.
type Payload struct {
	ProductID      string        `json:"product_id"`
	Provider       provider.Type `json:"provider"`
	Prompt         string        `json:"prompt"`
	NegativePrompt string        `json:"negative_prompt,omitempty"`
	AspectRatio    string        `json:"aspect_ratio"`
	Duration       int           `json:"duration"`
	Template       string        `json:"template,omitempty"`
	InputAssets    []string      `json:"input_assets"`
}

// Item is one durable unit of deferred execution.
type Item struct {
	// Key is the correlation key, equal to the GenerationJob ID.
	Key string `json:"key"`
	// Payload is the execution input.
	Payload Payload `json:"payload"`
	// Attempt is the number of the attempt currently underway, starting
	// at 1 on the first dequeue.
	Attempt int `json:"attempt"`
	// NotBefore delays delivery when backing off after a failure.
	NotBefore time.Time `json:"not_before,omitempty"`
	// EnqueuedAt is when the item first entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Result classifies a finished work item for retention and stats.
type Result string

// Work item results.
const (
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
)

// Stats is a point-in-time snapshot of queue depth, exposed for
// operator diagnostics.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue is the work-dispatch port. Implementations must make Dequeue an
// exclusive claim and Remove synchronous for items that have not been
// claimed yet.
type Queue interface {
	// Enqueue adds a work item, deduplicating on the correlation key.
	Enqueue(ctx context.Context, item Item) error

	// Dequeue blocks until an item is available or the context ends,
	// claiming the item exclusively and bumping its attempt counter.
	Dequeue(ctx context.Context) (*Item, error)

	// Ack finishes an active item, retaining a bounded record of the
	// outcome for inspection.
	Ack(ctx context.Context, key string, result Result, note string) error

	// Retry returns an active item to the queue after the given delay,
	// preserving its attempt count for the next claim.
	Retry(ctx context.Context, key string, delay time.Duration) error

	// Remove discards a queued-but-unclaimed item. It returns false when
	// the item is actively executing (or unknown); cancelling running
	// work is the worker's job, driven by the job store status.
	Remove(ctx context.Context, key string) (bool, error)

	// Stats reports queue depth counters.
	Stats(ctx context.Context) (Stats, error)

	// Close stops background scheduling. Pending items in a memory queue
	// are lost; durable backends keep them for the next process.
	Close() error
}

// finishedItem is a retained record of a completed or failed work item.
type finishedItem struct {
	Key        string
	Result     Result
	Note       string
	Attempt    int
	FinishedAt time.Time
}
