package job

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository. It uses
// a map with a mutex for thread-safe access and clones jobs at the
// boundary to prevent external mutation. Suitable for development and
// tests; production deployments use PostgresRepository.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
	}
}

// Create persists a new job record.
func (r *MemoryRepository) Create(_ context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j.Clone()
	return nil
}

// FindByID retrieves a job by its ID, returning a clone.
func (r *MemoryRepository) FindByID(_ context.Context, jobID string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// List returns all jobs, newest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		result = append(result, j.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return result, nil
}

// Transition performs the compare-and-swap under the repository lock.
func (r *MemoryRepository) Transition(_ context.Context, jobID string, from []Status, to Status, upd Update) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if !statusIn(j.Status, from) {
		return nil, ErrConflict
	}
	if err := j.TransitionTo(to); err != nil {
		return nil, err
	}

	applyUpdate(j, to, upd)
	return j.Clone(), nil
}

// UpdateProgress raises the job's progress; lower values are ignored.
func (r *MemoryRepository) UpdateProgress(_ context.Context, jobID string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.SetProgress(progress)
	return nil
}

// SetProviderRef records the vendor tracking ID and metadata.
func (r *MemoryRepository) SetProviderRef(_ context.Context, jobID, providerJobID string, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.ProviderJobID = providerJobID
	mergeMetadata(j, metadata)
	return nil
}

// applyUpdate writes the transition payload, keeping the output/error
// invariants tied to the target status.
func applyUpdate(j *Job, to Status, upd Update) {
	mergeMetadata(j, upd.Metadata)

	switch to {
	case StatusCompleted:
		j.OutputAsset = upd.OutputAsset
		j.Error = ""
		j.Progress = 100
	case StatusFailed:
		j.Error = upd.Error
		j.OutputAsset = nil
	}
}

func mergeMetadata(j *Job, metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	if j.Metadata == nil {
		j.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		j.Metadata[k] = v
	}
}
