package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// runwayAPIVersion is the dated API version header Runway requires.
const runwayAPIVersion = "2024-11-06"

// Runway is the adapter for the Runway Gen-3 image-to-video API.
// Runway is a polling vendor: Generate returns a task ID and GetStatus
// drives it to completion.
type Runway struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// RunwayOption configures a Runway adapter.
type RunwayOption func(*Runway)

// WithRunwayBaseURL overrides the API base URL, mainly for tests.
func WithRunwayBaseURL(url string) RunwayOption {
	return func(r *Runway) {
		r.baseURL = url
	}
}

// WithRunwayHTTPClient sets a custom HTTP client.
func WithRunwayHTTPClient(c *http.Client) RunwayOption {
	return func(r *Runway) {
		r.httpClient = c
	}
}

// NewRunway creates the Runway adapter. The API key is required at
// construction time.
func NewRunway(apiKey string, opts ...RunwayOption) (*Runway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("runway: %w", ErrMissingCredential)
	}

	r := &Runway{
		apiKey:     apiKey,
		baseURL:    "https://api.dev.runwayml.com/v1",
		model:      "gen3a_turbo",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name returns the vendor type.
func (r *Runway) Name() Type { return TypeRunway }

type runwayGenerateRequest struct {
	Model       string `json:"model"`
	PromptImage string `json:"promptImage"`
	PromptText  string `json:"promptText"`
	Duration    int    `json:"duration"`
	Ratio       string `json:"ratio"`
	Seed        *int64 `json:"seed,omitempty"`
}

type runwayTaskResponse struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Output   []string `json:"output"`
	Failure  string   `json:"failure"`
}

// Generate submits an image-to-video task and returns its tracking ID.
func (r *Runway) Generate(ctx context.Context, input GenerateInput) (GenerateResult, error) {
	if len(input.Images) == 0 {
		return GenerateResult{}, ErrNoInputImage
	}

	// Runway only accepts 5s or 10s clips; round up midrange requests.
	duration := 5
	if input.Duration > 5 {
		duration = 10
	}

	req := runwayGenerateRequest{
		Model:       r.model,
		PromptImage: input.Images[0],
		PromptText:  input.Prompt,
		Duration:    duration,
		Ratio:       runwayRatio(input.AspectRatio),
		Seed:        input.Seed,
	}

	var resp runwayTaskResponse
	if err := r.do(ctx, http.MethodPost, r.baseURL+"/image_to_video", req, &resp); err != nil {
		return GenerateResult{}, err
	}
	if resp.ID == "" {
		return GenerateResult{}, &UpstreamError{Provider: TypeRunway, StatusCode: http.StatusOK, Body: "no task ID returned"}
	}

	return GenerateResult{
		ProviderJobID: resp.ID,
		Metadata: map[string]any{
			"model":   r.model,
			"task_id": resp.ID,
		},
	}, nil
}

// GetStatus polls a Runway task and normalizes its status vocabulary.
func (r *Runway) GetStatus(ctx context.Context, providerJobID string) (Status, error) {
	if providerJobID == "" {
		return Status{}, ErrJobIDRequired
	}

	var resp runwayTaskResponse
	url := fmt.Sprintf("%s/tasks/%s", r.baseURL, providerJobID)
	if err := r.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return Status{}, err
	}

	st := Status{State: StateProcessing}
	switch resp.Status {
	case "PENDING":
		st.State = StateQueued
	case "RUNNING", "THROTTLED":
		st.State = StateProcessing
	case "SUCCEEDED":
		st.State = StateCompleted
		if len(resp.Output) > 0 {
			st.VideoURL = resp.Output[0]
		}
	case "FAILED", "CANCELLED":
		st.State = StateFailed
		st.Message = resp.Failure
	}

	if resp.Progress > 0 {
		p := int(resp.Progress * 100)
		if p > 100 {
			p = 100
		}
		st.Progress = &p
	}
	return st, nil
}

// Cancel asks Runway to abort a task.
func (r *Runway) Cancel(ctx context.Context, providerJobID string) (bool, error) {
	if providerJobID == "" {
		return false, ErrJobIDRequired
	}
	url := fmt.Sprintf("%s/tasks/%s/cancel", r.baseURL, providerJobID)
	if err := r.do(ctx, http.MethodPost, url, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// do performs a single JSON request against the Runway API.
func (r *Runway) do(ctx context.Context, method, url string, body, result any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("runway: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("runway: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Runway-Version", runwayAPIVersion)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runway: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("runway: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Provider: TypeRunway, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("runway: unmarshal response: %w", err)
		}
	}
	return nil
}

// runwayRatio converts a logical aspect ratio to Runway's pixel ratios.
func runwayRatio(ratio string) string {
	switch ratio {
	case "16:9":
		return "1344:768"
	case "1:1":
		return "1024:1024"
	case "4:5":
		return "896:1120"
	default: // 9:16, vertical social formats
		return "768:1344"
	}
}
