package job

import (
	"context"
	"errors"
)

// Static errors for job persistence.
var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job: job not found")
	// ErrConflict is returned by Transition when the job's current
	// status is outside the allowed set. Callers use it to detect lost
	// races (e.g. cancellation beating completion).
	ErrConflict = errors.New("job: status conflict")
)

// Update carries the fields applied atomically together with a status
// transition. The repository enforces the output/error invariants:
// OutputAsset is only persisted on COMPLETED, Error only on FAILED.
type Update struct {
	// Error is the terminal error text, persisted verbatim on FAILED.
	Error string
	// OutputAsset is the stored output, required on COMPLETED.
	OutputAsset *AssetRef
	// Metadata merges provider metadata into the job record.
	Metadata map[string]any
}

// Repository is the persistence port for GenerationJobs. It is the
// single source of truth for job state; every transition is one atomic
// conditional update keyed by job ID, which is what linearizes the
// cancellation-vs-completion race without holding locks across network
// calls.
type Repository interface {
	// Create persists a new job record.
	Create(ctx context.Context, j *Job) error

	// FindByID retrieves a job. Returns ErrJobNotFound if absent.
	FindByID(ctx context.Context, jobID string) (*Job, error)

	// List returns all jobs, newest first.
	List(ctx context.Context) ([]*Job, error)

	// Transition atomically moves the job to the target status if and
	// only if its current status is in the allowed set, applying upd in
	// the same operation. Returns ErrConflict when the compare fails and
	// ErrJobNotFound when the job does not exist.
	Transition(ctx context.Context, jobID string, from []Status, to Status, upd Update) (*Job, error)

	// UpdateProgress raises the job's progress percentage. Lower values
	// are ignored so progress never regresses.
	UpdateProgress(ctx context.Context, jobID string, progress int) error

	// SetProviderRef records the vendor tracking ID and metadata once a
	// polling vendor accepts the job.
	SetProviderRef(ctx context.Context, jobID, providerJobID string, metadata map[string]any) error
}

// statusIn reports whether s is in the allowed set.
func statusIn(s Status, set []Status) bool {
	for _, allowed := range set {
		if s == allowed {
			return true
		}
	}
	return false
}
