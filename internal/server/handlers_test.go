package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylemotion/catwalk-api/internal/job"
	"github.com/stylemotion/catwalk-api/internal/provider"
	"github.com/stylemotion/catwalk-api/internal/queue"
)

// stubVendor satisfies provider.VideoProvider for handler tests.
type stubVendor struct {
	name provider.Type
}

func (s *stubVendor) Name() provider.Type { return s.name }
func (s *stubVendor) Generate(context.Context, provider.GenerateInput) (provider.GenerateResult, error) {
	return provider.GenerateResult{ProviderJobID: "task-1"}, nil
}
func (s *stubVendor) GetStatus(context.Context, string) (provider.Status, error) {
	return provider.Status{State: provider.StateProcessing}, nil
}
func (s *stubVendor) Cancel(context.Context, string) (bool, error) { return true, nil }

type fixture struct {
	router http.Handler
	repo   *job.MemoryRepository
	queue  *queue.MemoryQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := job.NewMemoryRepository()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })

	registry := provider.NewRegistryWithProviders(&stubVendor{name: provider.TypeRunway})
	service := job.NewService(repo, q, registry, nil)
	handlers := NewHandlers(service, registry, q, nil)
	router := NewRouter(handlers, testLogger(), DefaultConfig())

	return &fixture{router: router, repo: repo, queue: q}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func validCreateRequest() CreateJobRequest {
	return CreateJobRequest{
		ProductID:   "prod-1",
		InputAssets: []string{"https://img.example.com/1.png"},
		AspectRatio: "9:16",
		Duration:    6,
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/jobs", validCreateRequest())
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, string(job.StatusQueued), resp.Status)
	assert.Equal(t, "runway", resp.Provider)
	assert.Equal(t, "prod-1", resp.ProductID)

	// The job is persisted and a work item queued.
	_, err := f.repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	stats, _ := f.queue.Stats(context.Background())
	assert.Equal(t, 1, stats.Waiting)
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestCreateJob_ValidationError(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateJobRequest)
	}{
		{"missing product", func(r *CreateJobRequest) { r.ProductID = "" }},
		{"no input assets", func(r *CreateJobRequest) { r.InputAssets = nil }},
		{"bad duration", func(r *CreateJobRequest) { r.Duration = 30 }},
		{"unknown provider", func(r *CreateJobRequest) { r.Provider = "sora" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validCreateRequest()
			tt.mutate(&body)

			rec := f.do(t, http.MethodPost, "/jobs", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)
		})
	}
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)

	created := f.do(t, http.MethodPost, "/jobs", validCreateRequest())
	var createdResp JobResponse
	require.NoError(t, json.NewDecoder(created.Body).Decode(&createdResp))

	rec := f.do(t, http.MethodGet, "/jobs/"+createdResp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, createdResp.ID, resp.ID)
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/jobs/gen-missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "JOB_NOT_FOUND", resp.Code)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/jobs", validCreateRequest())
		require.Equal(t, http.StatusAccepted, rec.Code)
		time.Sleep(time.Millisecond)
	}

	rec := f.do(t, http.MethodGet, "/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Count)
	require.Len(t, resp.Jobs, 3)
	// Newest first.
	assert.True(t, !resp.Jobs[0].CreatedAt.Before(resp.Jobs[2].CreatedAt))
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)

	created := f.do(t, http.MethodPost, "/jobs", validCreateRequest())
	var createdResp JobResponse
	require.NoError(t, json.NewDecoder(created.Body).Decode(&createdResp))

	rec := f.do(t, http.MethodDelete, "/jobs/"+createdResp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(job.StatusCancelled), resp.Status)

	// A second cancel hits a terminal job.
	rec = f.do(t, http.MethodDelete, "/jobs/"+createdResp.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestListProviders(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProvidersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"runway"}, resp.Available)
}

func TestQueueStats(t *testing.T) {
	f := newFixture(t)
	_ = f.do(t, http.MethodPost, "/jobs", validCreateRequest())

	rec := f.do(t, http.MethodGet, "/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QueueStatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Waiting)
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, "fixed-id", rr.Header().Get("X-Request-ID"))
}
