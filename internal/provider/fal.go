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

// Fal model identifiers hosted on the fal.ai queue API.
const (
	falPikaModel = "fal-ai/pika/image-to-video"
	falLumaModel = "fal-ai/luma-dream-machine/image-to-video"
)

// falPayloadFunc shapes a vendor-neutral request into the body a specific
// fal-hosted model expects. Sharing the queue client and varying only the
// payload keeps the two fal adapters free of inheritance.
type falPayloadFunc func(input GenerateInput) map[string]any

// Fal is the adapter for models hosted on fal.ai's queue API. One adapter
// instance serves one model; Pika and Luma differ only in payload shape.
// Fal is a polling vendor.
type Fal struct {
	name       Type
	model      string
	apiKey     string
	baseURL    string
	payload    falPayloadFunc
	httpClient *http.Client
}

// FalOption configures a Fal adapter.
type FalOption func(*Fal)

// WithFalBaseURL overrides the queue API base URL, mainly for tests.
func WithFalBaseURL(url string) FalOption {
	return func(f *Fal) {
		f.baseURL = url
	}
}

// WithFalHTTPClient sets a custom HTTP client.
func WithFalHTTPClient(c *http.Client) FalOption {
	return func(f *Fal) {
		f.httpClient = c
	}
}

// NewFalPika creates the adapter for Pika image-to-video via fal.ai.
func NewFalPika(apiKey string, opts ...FalOption) (*Fal, error) {
	return newFal(TypeFalPika, falPikaModel, apiKey, pikaPayload, opts...)
}

// NewFalLuma creates the adapter for Luma Dream Machine via fal.ai.
func NewFalLuma(apiKey string, opts ...FalOption) (*Fal, error) {
	return newFal(TypeFalLuma, falLumaModel, apiKey, lumaPayload, opts...)
}

func newFal(name Type, model, apiKey string, payload falPayloadFunc, opts ...FalOption) (*Fal, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingCredential)
	}

	f := &Fal{
		name:       name,
		model:      model,
		apiKey:     apiKey,
		baseURL:    "https://queue.fal.run",
		payload:    payload,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Name returns the vendor type.
func (f *Fal) Name() Type { return f.name }

type falSubmitResponse struct {
	RequestID string `json:"request_id"`
}

type falStatusResponse struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
	Error         string `json:"error"`
}

type falResultResponse struct {
	Video struct {
		URL string `json:"url"`
	} `json:"video"`
	Output struct {
		URL string `json:"url"`
	} `json:"output"`
	Detail string `json:"detail"`
}

// Generate enqueues a request on the fal queue and returns its ID.
func (f *Fal) Generate(ctx context.Context, input GenerateInput) (GenerateResult, error) {
	if len(input.Images) == 0 {
		return GenerateResult{}, ErrNoInputImage
	}

	var resp falSubmitResponse
	url := fmt.Sprintf("%s/%s", f.baseURL, f.model)
	if err := f.do(ctx, http.MethodPost, url, f.payload(input), &resp); err != nil {
		return GenerateResult{}, err
	}
	if resp.RequestID == "" {
		return GenerateResult{}, &UpstreamError{Provider: f.name, StatusCode: http.StatusOK, Body: "no request ID returned"}
	}

	return GenerateResult{
		ProviderJobID: resp.RequestID,
		Metadata: map[string]any{
			"model":      f.model,
			"request_id": resp.RequestID,
		},
	}, nil
}

// GetStatus polls the fal queue. Completed requests need a second call to
// the result endpoint to obtain the video URL.
func (f *Fal) GetStatus(ctx context.Context, providerJobID string) (Status, error) {
	if providerJobID == "" {
		return Status{}, ErrJobIDRequired
	}

	var resp falStatusResponse
	url := fmt.Sprintf("%s/%s/requests/%s/status", f.baseURL, f.model, providerJobID)
	if err := f.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return Status{}, err
	}

	switch resp.Status {
	case "IN_QUEUE":
		return Status{State: StateQueued}, nil
	case "IN_PROGRESS":
		return Status{State: StateProcessing}, nil
	case "COMPLETED":
		videoURL, err := f.result(ctx, providerJobID)
		if err != nil {
			return Status{}, err
		}
		return Status{State: StateCompleted, VideoURL: videoURL}, nil
	case "FAILED", "ERROR":
		return Status{State: StateFailed, Message: resp.Error}, nil
	default:
		// Never drop a job on an unknown vendor state.
		return Status{State: StateProcessing}, nil
	}
}

// Cancel asks fal to drop a queued or running request.
func (f *Fal) Cancel(ctx context.Context, providerJobID string) (bool, error) {
	if providerJobID == "" {
		return false, ErrJobIDRequired
	}
	url := fmt.Sprintf("%s/%s/requests/%s/cancel", f.baseURL, f.model, providerJobID)
	if err := f.do(ctx, http.MethodPut, url, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// result fetches the output payload of a completed request.
func (f *Fal) result(ctx context.Context, providerJobID string) (string, error) {
	var resp falResultResponse
	url := fmt.Sprintf("%s/%s/requests/%s", f.baseURL, f.model, providerJobID)
	if err := f.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return "", err
	}
	if resp.Video.URL != "" {
		return resp.Video.URL, nil
	}
	return resp.Output.URL, nil
}

// do performs a single JSON request against the fal queue API.
func (f *Fal) do(ctx context.Context, method, url string, body, result any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("fal: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("fal: create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fal: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("fal: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Provider: f.name, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("fal: unmarshal response: %w", err)
		}
	}
	return nil
}

// pikaPayload shapes a request for the Pika image-to-video model.
// Pika renders at 24 fps with a 72-frame ceiling.
func pikaPayload(input GenerateInput) map[string]any {
	duration := input.Duration
	if duration <= 0 {
		duration = 3
	}
	frames := duration * 24
	if frames > 72 {
		frames = 72
	}

	payload := map[string]any{
		"image_url":           input.Images[0],
		"prompt":              input.Prompt,
		"aspect_ratio":        falRatio(input.AspectRatio),
		"num_frames":          frames,
		"guidance_scale":      7.5,
		"num_inference_steps": 25,
	}
	if input.NegativePrompt != "" {
		payload["negative_prompt"] = input.NegativePrompt
	}
	if input.Seed != nil {
		payload["seed"] = *input.Seed
	}
	return payload
}

// lumaPayload shapes a request for the Luma Dream Machine model, which
// takes no negative prompt or frame count.
func lumaPayload(input GenerateInput) map[string]any {
	payload := map[string]any{
		"image_url":    input.Images[0],
		"prompt":       input.Prompt,
		"aspect_ratio": falRatio(input.AspectRatio),
		"loop":         false,
	}
	if input.Seed != nil {
		payload["seed"] = *input.Seed
	}
	return payload
}

// falRatio maps logical aspect ratios onto the set fal models accept.
func falRatio(ratio string) string {
	switch ratio {
	case "16:9", "1:1", "4:3", "3:4", "21:9", "9:21":
		return ratio
	case "4:5":
		return "3:4" // closest supported portrait ratio
	default:
		return "9:16"
	}
}
