// Package worker runs the asynchronous execution side of the pipeline:
// a fixed pool of goroutines claims work items from the queue, drives the
// vendor adapters, persists outputs, and finalizes job status with
// compare-and-set transitions so cancellation always wins races cleanly.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stylemotion/catwalk-api/internal/job"
	"github.com/stylemotion/catwalk-api/internal/provider"
	"github.com/stylemotion/catwalk-api/internal/queue"
	"github.com/stylemotion/catwalk-api/internal/reconcile"
	"github.com/stylemotion/catwalk-api/internal/storage"
)

// Pool executes queued generation jobs with a bounded number of
// concurrent workers.
type Pool struct {
	queue      queue.Queue
	repo       job.Repository
	registry   *provider.Registry
	store      storage.Storage
	reconciler *reconcile.Reconciler
	limiter    *StartLimiter
	logger     *slog.Logger

	workers     int
	maxAttempts int
	backoffBase time.Duration
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of concurrent workers (default 2).
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMaxAttempts sets the per-job attempt budget (default 3).
func WithMaxAttempts(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the first retry delay; each subsequent retry
// doubles it (default 5s).
func WithBackoffBase(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.backoffBase = d
		}
	}
}

// WithStartLimiter installs a rate limiter applied before every
// generation start.
func WithStartLimiter(l *StartLimiter) PoolOption {
	return func(p *Pool) {
		p.limiter = l
	}
}

// NewPool creates a worker pool. Run must be called to start it.
func NewPool(
	q queue.Queue,
	repo job.Repository,
	registry *provider.Registry,
	store storage.Storage,
	reconciler *reconcile.Reconciler,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:       q,
		repo:        repo,
		registry:    registry,
		store:       store,
		reconciler:  reconciler,
		logger:      logger,
		workers:     2,
		maxAttempts: 3,
		backoffBase: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks, executing jobs until the context is cancelled or the
// queue closes. In-flight jobs run to their next checkpoint before the
// workers return.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(ctx, worker)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) error {
	log := p.logger.With(slog.Int("worker", worker))
	log.Info("worker started")

	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				log.Info("worker stopped")
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		p.execute(ctx, log, item)
	}
}

// execute runs one claimed work item through a full attempt.
func (p *Pool) execute(ctx context.Context, log *slog.Logger, item *queue.Item) {
	log = log.With(
		slog.String("job_id", item.Key),
		slog.Int("attempt", item.Attempt),
	)

	// Claim the job. A first attempt moves QUEUED to RUNNING; a retry
	// finds it RUNNING already. A terminal status means cancellation
	// beat the claim, so the item is acked away untouched.
	current, err := p.repo.FindByID(ctx, item.Key)
	if err != nil {
		log.Error("failed to load job for claimed item", slog.String("error", err.Error()))
		p.ack(ctx, log, item.Key, queue.ResultFailed, "job record unavailable")
		return
	}
	if current.IsTerminal() {
		log.Info("skipping work item for finished job", slog.String("status", string(current.Status)))
		p.ack(ctx, log, item.Key, queue.ResultCompleted, "job already finished")
		return
	}
	if current.Status == job.StatusQueued {
		if _, err := p.repo.Transition(ctx, item.Key, []job.Status{job.StatusQueued}, job.StatusRunning, job.Update{}); err != nil {
			if errors.Is(err, job.ErrConflict) {
				p.ack(ctx, log, item.Key, queue.ResultCompleted, "job cancelled before start")
				return
			}
			log.Error("failed to mark job running", slog.String("error", err.Error()))
			p.retryOrFail(ctx, log, item, fmt.Errorf("mark running: %w", err))
			return
		}
	}

	adapter, err := p.resolveAdapter(item.Payload.Provider)
	if err != nil {
		// Misconfiguration is not transient; fail without retry.
		p.finalizeFailed(ctx, log, item, err.Error())
		return
	}
	log = log.With(slog.String("provider", string(adapter.Name())))

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.retryOrFail(ctx, log, item, fmt.Errorf("rate limit wait: %w", err))
			return
		}
	}

	log.Info("starting video generation")
	result, err := adapter.Generate(ctx, provider.GenerateInput{
		Images:         item.Payload.InputAssets,
		Prompt:         item.Payload.Prompt,
		NegativePrompt: item.Payload.NegativePrompt,
		AspectRatio:    item.Payload.AspectRatio,
		Duration:       item.Payload.Duration,
		Template:       item.Payload.Template,
	})
	if err != nil {
		if errors.Is(err, provider.ErrNoInputImage) {
			p.finalizeFailed(ctx, log, item, err.Error())
			return
		}
		p.retryOrFail(ctx, log, item, err)
		return
	}

	videoURL := result.VideoURL
	if !result.Synchronous() {
		if err := p.repo.SetProviderRef(ctx, item.Key, result.ProviderJobID, result.Metadata); err != nil {
			log.Error("failed to record provider job id", slog.String("error", err.Error()))
		}
		videoURL, err = p.reconciler.Await(ctx, item.Key, result.ProviderJobID, adapter)
		if err != nil {
			switch {
			case errors.Is(err, reconcile.ErrCancelled):
				log.Info("generation abandoned after cancellation")
				p.ack(ctx, log, item.Key, queue.ResultCompleted, "cancelled while running")
			case errors.Is(err, reconcile.ErrPollTimeout):
				p.finalizeFailed(ctx, log, item, err.Error())
			default:
				p.retryOrFail(ctx, log, item, err)
			}
			return
		}
	}

	p.finalizeCompleted(ctx, log, item, videoURL, result.Metadata)
}

// resolveAdapter picks the requested adapter, or the highest-priority
// available one when the payload names none.
func (p *Pool) resolveAdapter(t provider.Type) (provider.VideoProvider, error) {
	if t == "" {
		return p.registry.ResolveDefault()
	}
	return p.registry.Resolve(t)
}

// finalizeCompleted stores the vendor output durably and completes the
// job. If cancellation won the race in the meantime the stored asset is
// deleted again and the outcome discarded.
func (p *Pool) finalizeCompleted(ctx context.Context, log *slog.Logger, item *queue.Item, videoURL string, metadata map[string]any) {
	info, err := p.store.Store(ctx, videoURL, "videos")
	if err != nil {
		// A generated but unstored video is not a success.
		p.finalizeFailed(ctx, log, item, err.Error())
		return
	}

	asset := &job.AssetRef{
		URL:       info.URL,
		Filename:  info.Filename,
		MimeType:  info.MimeType,
		SizeBytes: info.SizeBytes,
	}
	_, err = p.repo.Transition(ctx, item.Key, []job.Status{job.StatusRunning}, job.StatusCompleted, job.Update{
		OutputAsset: asset,
		Metadata:    metadata,
	})
	if err != nil {
		if errors.Is(err, job.ErrConflict) {
			log.Info("discarding output for cancelled job")
			if derr := p.store.Delete(ctx, info); derr != nil {
				log.Warn("failed to delete discarded asset", slog.String("error", derr.Error()))
			}
			p.ack(ctx, log, item.Key, queue.ResultCompleted, "output discarded after cancellation")
			return
		}
		log.Error("failed to complete job", slog.String("error", err.Error()))
		p.retryOrFail(ctx, log, item, fmt.Errorf("complete job: %w", err))
		return
	}

	log.Info("job completed", slog.String("video_url", info.URL))
	p.ack(ctx, log, item.Key, queue.ResultCompleted, "")
}

// retryOrFail schedules another attempt with exponential backoff, or
// finalizes the job FAILED once the attempt budget is spent.
func (p *Pool) retryOrFail(ctx context.Context, log *slog.Logger, item *queue.Item, cause error) {
	if ctx.Err() != nil {
		// Shutting down; leave the item for the next process instead of
		// burning an attempt on a context error.
		log.Info("abandoning attempt on shutdown", slog.String("error", cause.Error()))
		return
	}
	if item.Attempt >= p.maxAttempts {
		p.finalizeFailed(ctx, log, item, cause.Error())
		return
	}

	delay := p.backoffBase << (item.Attempt - 1)
	log.Warn("attempt failed, scheduling retry",
		slog.String("error", cause.Error()),
		slog.Duration("delay", delay),
	)
	if err := p.queue.Retry(ctx, item.Key, delay); err != nil {
		if errors.Is(err, queue.ErrNotActive) {
			return
		}
		log.Error("failed to schedule retry", slog.String("error", err.Error()))
		p.finalizeFailed(ctx, log, item, cause.Error())
	}
}

// finalizeFailed moves the job to FAILED with the error text preserved
// verbatim. A job already cancelled stays cancelled.
func (p *Pool) finalizeFailed(ctx context.Context, log *slog.Logger, item *queue.Item, msg string) {
	_, err := p.repo.Transition(ctx, item.Key,
		[]job.Status{job.StatusQueued, job.StatusRunning},
		job.StatusFailed,
		job.Update{Error: msg},
	)
	if err != nil && !errors.Is(err, job.ErrConflict) {
		log.Error("failed to mark job failed", slog.String("error", err.Error()))
	}
	log.Warn("job failed", slog.String("error", msg))
	p.ack(ctx, log, item.Key, queue.ResultFailed, msg)
}

func (p *Pool) ack(ctx context.Context, log *slog.Logger, key string, result queue.Result, note string) {
	if err := p.queue.Ack(ctx, key, result, note); err != nil && !errors.Is(err, queue.ErrNotActive) {
		log.Warn("failed to ack work item", slog.String("error", err.Error()))
	}
}
