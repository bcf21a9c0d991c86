package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylemotion/catwalk-api/internal/job"
	"github.com/stylemotion/catwalk-api/internal/provider"
)

// scriptedAdapter returns a fixed sequence of poll results, repeating
// the last one once the script is exhausted.
type scriptedAdapter struct {
	mu       sync.Mutex
	statuses []provider.Status
	errs     []error
	calls    int
}

func (a *scriptedAdapter) Name() provider.Type { return provider.TypeRunway }

func (a *scriptedAdapter) Generate(context.Context, provider.GenerateInput) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, nil
}

func (a *scriptedAdapter) GetStatus(context.Context, string) (provider.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	if i >= len(a.statuses) {
		i = len(a.statuses) - 1
	}
	a.calls++
	if i < len(a.errs) && a.errs[i] != nil {
		return provider.Status{}, a.errs[i]
	}
	return a.statuses[i], nil
}

func (a *scriptedAdapter) Cancel(context.Context, string) (bool, error) {
	return false, nil
}

func newRunningJob(t *testing.T, repo job.Repository) *job.Job {
	t.Helper()
	j := job.New()
	require.NoError(t, repo.Create(context.Background(), j))
	_, err := repo.Transition(context.Background(), j.ID, []job.Status{job.StatusQueued}, job.StatusRunning, job.Update{})
	require.NoError(t, err)
	return j
}

func intPtr(v int) *int { return &v }

func TestAwait_CompletesAfterPolling(t *testing.T) {
	repo := job.NewMemoryRepository()
	j := newRunningJob(t, repo)

	adapter := &scriptedAdapter{statuses: []provider.Status{
		{State: provider.StateProcessing, Progress: intPtr(30)},
		{State: provider.StateProcessing, Progress: intPtr(60)},
		{State: provider.StateCompleted, VideoURL: "https://cdn.runwayml.com/out.mp4"},
	}}

	r := New(repo, nil, WithInterval(5*time.Millisecond), WithTimeout(time.Second))
	url, err := r.Await(context.Background(), j.ID, "task-1", adapter)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.runwayml.com/out.mp4", url)

	// Progress from intermediate polls was persisted.
	stored, err := repo.FindByID(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, stored.Progress)
}

func TestAwait_VendorFailure(t *testing.T) {
	repo := job.NewMemoryRepository()
	j := newRunningJob(t, repo)

	adapter := &scriptedAdapter{statuses: []provider.Status{
		{State: provider.StateFailed, Message: "NSFW content detected"},
	}}

	r := New(repo, nil, WithInterval(5*time.Millisecond), WithTimeout(time.Second))
	_, err := r.Await(context.Background(), j.ID, "task-1", adapter)
	require.Error(t, err)

	var ue *provider.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Body, "NSFW content detected")
}

func TestAwait_CompletedWithoutURL(t *testing.T) {
	repo := job.NewMemoryRepository()
	j := newRunningJob(t, repo)

	adapter := &scriptedAdapter{statuses: []provider.Status{
		{State: provider.StateCompleted},
	}}

	r := New(repo, nil, WithInterval(5*time.Millisecond), WithTimeout(time.Second))
	_, err := r.Await(context.Background(), j.ID, "task-1", adapter)
	require.Error(t, err)
	assert.True(t, provider.IsUpstream(err))
}

func TestAwait_PollTimeout(t *testing.T) {
	repo := job.NewMemoryRepository()
	j := newRunningJob(t, repo)

	adapter := &scriptedAdapter{statuses: []provider.Status{
		{State: provider.StateProcessing},
	}}

	r := New(repo, nil, WithInterval(5*time.Millisecond), WithTimeout(25*time.Millisecond))
	_, err := r.Await(context.Background(), j.ID, "task-1", adapter)
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestAwait_CancellationStopsPolling(t *testing.T) {
	repo := job.NewMemoryRepository()
	j := newRunningJob(t, repo)

	adapter := &scriptedAdapter{statuses: []provider.Status{
		{State: provider.StateProcessing},
	}}

	// Cancel shortly after polling begins.
	go func() {
		time.Sleep(15 * time.Millisecond)
		_, _ = repo.Transition(context.Background(), j.ID,
			[]job.Status{job.StatusRunning}, job.StatusCancelled, job.Update{})
	}()

	r := New(repo, nil, WithInterval(5*time.Millisecond), WithTimeout(time.Second))
	_, err := r.Await(context.Background(), j.ID, "task-1", adapter)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestAwait_PollErrorPropagates(t *testing.T) {
	repo := job.NewMemoryRepository()
	j := newRunningJob(t, repo)

	upstreamErr := &provider.UpstreamError{Provider: provider.TypeRunway, StatusCode: 500, Body: "internal"}
	adapter := &scriptedAdapter{
		statuses: []provider.Status{{}},
		errs:     []error{upstreamErr},
	}

	r := New(repo, nil, WithInterval(5*time.Millisecond), WithTimeout(time.Second))
	_, err := r.Await(context.Background(), j.ID, "task-1", adapter)
	require.Error(t, err)
	assert.True(t, provider.IsUpstream(err))
}

func TestAwait_ContextCancellation(t *testing.T) {
	repo := job.NewMemoryRepository()
	j := newRunningJob(t, repo)

	adapter := &scriptedAdapter{statuses: []provider.Status{
		{State: provider.StateProcessing},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := New(repo, nil, WithInterval(5*time.Millisecond), WithTimeout(time.Minute))
	_, err := r.Await(ctx, j.ID, "task-1", adapter)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
