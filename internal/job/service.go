package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/stylemotion/catwalk-api/internal/provider"
	"github.com/stylemotion/catwalk-api/internal/queue"
)

// Static errors for the submission service.
var (
	// ErrValidation wraps any submission input problem.
	ErrValidation = errors.New("job: invalid submission")
	// ErrNotCancellable is returned when cancelling a job that already
	// reached a terminal status.
	ErrNotCancellable = errors.New("job: job is not cancellable")
)

// defaultPrompt is used when the caller supplies no custom prompt.
const defaultPrompt = "Elegant fashion product video, smooth cinematic camera motion, professional studio lighting"

// SubmitInput is the validated input for a new generation job.
type SubmitInput struct {
	ProductID      string   `validate:"required"`
	InputAssets    []string `validate:"required,min=1,dive,url"`
	Provider       string   `validate:"omitempty"`
	Prompt         string   `validate:"omitempty,max=2000"`
	NegativePrompt string   `validate:"omitempty,max=2000"`
	AspectRatio    string   `validate:"omitempty,oneof=9:16 16:9 1:1 4:5"`
	Duration       int      `validate:"omitempty,min=3,max=10"`
	Template       string   `validate:"omitempty,max=100"`
}

// Service coordinates job submission, lookup, and cancellation. It owns
// the synchronous side of the pipeline; execution happens in the worker
// pool.
type Service struct {
	repo     Repository
	queue    queue.Queue
	registry *provider.Registry
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(repo Repository, q queue.Queue, registry *provider.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		queue:    q,
		registry: registry,
		validate: validator.New(),
		logger:   logger,
	}
}

// Submit validates the input, persists a QUEUED job, and enqueues the
// work item. The returned job reflects the stored record; execution
// starts asynchronously.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (*Job, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	providerType, err := s.chooseProvider(input.Provider)
	if err != nil {
		return nil, err
	}

	if input.AspectRatio == "" {
		input.AspectRatio = "9:16"
	}
	if input.Duration == 0 {
		input.Duration = 6
	}

	j := New()
	j.ProductID = input.ProductID
	j.Provider = providerType
	j.Prompt = buildPrompt(input.Prompt, input.Template)
	j.NegativePrompt = input.NegativePrompt
	j.AspectRatio = input.AspectRatio
	j.Duration = input.Duration
	j.Template = input.Template
	j.InputAssets = append([]string(nil), input.InputAssets...)

	if err := s.repo.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	err = s.queue.Enqueue(ctx, queue.Item{
		Key: j.ID,
		Payload: queue.Payload{
			ProductID:      j.ProductID,
			Provider:       j.Provider,
			Prompt:         j.Prompt,
			NegativePrompt: j.NegativePrompt,
			AspectRatio:    j.AspectRatio,
			Duration:       j.Duration,
			Template:       j.Template,
			InputAssets:    j.InputAssets,
		},
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		// The job record exists but nothing will execute it; fail it so
		// the caller sees a consistent terminal state.
		msg := fmt.Sprintf("enqueue failed: %v", err)
		if _, ferr := s.repo.Transition(ctx, j.ID, []Status{StatusQueued}, StatusFailed, Update{Error: msg}); ferr != nil {
			s.logger.Error("failed to mark unqueued job failed",
				slog.String("job_id", j.ID),
				slog.String("error", ferr.Error()),
			)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("job submitted",
		slog.String("job_id", j.ID),
		slog.String("provider", string(j.Provider)),
		slog.String("product_id", j.ProductID),
	)
	return j, nil
}

// Get retrieves a job by ID.
func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.FindByID(ctx, jobID)
}

// List returns all jobs, newest first.
func (s *Service) List(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Cancel moves a non-terminal job to CANCELLED. The status transition
// is the authoritative step: a queued work item is removed, and a
// running vendor job is asked to stop on a best-effort basis. A worker
// racing this call observes CANCELLED at its next checkpoint and
// discards its outcome.
func (s *Service) Cancel(ctx context.Context, jobID string) (*Job, error) {
	j, err := s.repo.Transition(ctx, jobID,
		[]Status{StatusQueued, StatusRunning},
		StatusCancelled,
		Update{},
	)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: job %s", ErrNotCancellable, jobID)
		}
		return nil, err
	}

	removed, err := s.queue.Remove(ctx, jobID)
	if err != nil {
		s.logger.Warn("failed to remove cancelled work item",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	if !removed && j.ProviderJobID != "" {
		s.cancelUpstream(ctx, j)
	}

	s.logger.Info("job cancelled", slog.String("job_id", jobID))
	return j, nil
}

// cancelUpstream asks the vendor to stop a running generation. Failures
// are logged and ignored; the reconciler discards any late output.
func (s *Service) cancelUpstream(ctx context.Context, j *Job) {
	adapter, err := s.registry.Resolve(j.Provider)
	if err != nil {
		return
	}
	supported, err := adapter.Cancel(ctx, j.ProviderJobID)
	if err != nil {
		s.logger.Warn("upstream cancel failed",
			slog.String("job_id", j.ID),
			slog.String("provider", string(j.Provider)),
			slog.String("error", err.Error()),
		)
		return
	}
	if !supported {
		s.logger.Info("provider does not support cancellation, output will be discarded",
			slog.String("job_id", j.ID),
			slog.String("provider", string(j.Provider)),
		)
	}
}

// chooseProvider validates an explicit provider choice or falls back to
// the highest-priority configured vendor.
func (s *Service) chooseProvider(requested string) (provider.Type, error) {
	if requested == "" {
		adapter, err := s.registry.ResolveDefault()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return adapter.Name(), nil
	}

	t := provider.Type(requested)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown provider %q", ErrValidation, requested)
	}
	if _, err := s.registry.Resolve(t); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return t, nil
}

// buildPrompt returns the custom prompt when present, otherwise a
// default optionally flavored by the template name.
func buildPrompt(custom, template string) string {
	if custom != "" {
		return custom
	}
	if template != "" {
		return fmt.Sprintf("%s, %s style", defaultPrompt, template)
	}
	return defaultPrompt
}
