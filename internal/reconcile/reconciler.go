// Package reconcile drives a RUNNING job through a polling vendor's
// lifecycle: it polls the provider adapter on a fixed interval, persists
// progress, and stops on a terminal provider status, a cancellation in
// the job store, or the overall time ceiling.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stylemotion/catwalk-api/internal/job"
	"github.com/stylemotion/catwalk-api/internal/provider"
)

// Static errors for reconciliation outcomes.
var (
	// ErrPollTimeout is returned when the vendor does not reach a
	// terminal status within the ceiling. Terminal: the job is failed,
	// not retried.
	ErrPollTimeout = errors.New("reconcile: video generation timed out")
	// ErrCancelled is returned when the job store reports a terminal
	// status mid-poll, which means cancellation won the race. The
	// vendor outcome, whatever it turns out to be, must be discarded.
	ErrCancelled = errors.New("reconcile: job was cancelled")
)

// Reconciler polls provider adapters and persists job progress. It is
// stateless across jobs and safe for concurrent use by the worker pool.
type Reconciler struct {
	repo     job.Repository
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithInterval sets the poll interval (default 3s).
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithTimeout sets the overall polling ceiling (default 10m).
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a Reconciler.
func New(repo job.Repository, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		repo:     repo,
		logger:   logger,
		interval: 3 * time.Second,
		timeout:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Await polls the adapter until the vendor job reaches a terminal state
// and returns the produced video URL. Cooperative cancellation: the job
// store is consulted before and after every poll, and a terminal status
// there aborts the loop with ErrCancelled.
func (r *Reconciler) Await(ctx context.Context, jobID, providerJobID string, adapter provider.VideoProvider) (string, error) {
	deadline := time.Now().Add(r.timeout)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.checkActive(ctx, jobID); err != nil {
			return "", err
		}

		status, err := adapter.GetStatus(ctx, providerJobID)
		if err != nil {
			return "", err
		}

		if status.Progress != nil {
			if err := r.repo.UpdateProgress(ctx, jobID, *status.Progress); err != nil {
				r.logger.Warn("failed to persist progress",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}

		if err := r.checkActive(ctx, jobID); err != nil {
			return "", err
		}

		switch status.State {
		case provider.StateCompleted:
			if status.VideoURL == "" {
				return "", &provider.UpstreamError{
					Provider:   adapter.Name(),
					StatusCode: http.StatusOK,
					Body:       "vendor reported completion without a video URL",
				}
			}
			return status.VideoURL, nil
		case provider.StateFailed:
			msg := status.Message
			if msg == "" {
				msg = "vendor reported failure without detail"
			}
			return "", &provider.UpstreamError{
				Provider:   adapter.Name(),
				StatusCode: http.StatusOK,
				Body:       msg,
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w after %s", ErrPollTimeout, r.timeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkActive aborts the loop once the job store shows a terminal
// status, which only a cancellation (or operator action) can cause
// while this worker holds the job.
func (r *Reconciler) checkActive(ctx context.Context, jobID string) error {
	j, err := r.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if j.IsTerminal() {
		return ErrCancelled
	}
	return nil
}
