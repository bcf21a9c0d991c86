// Package server provides the HTTP surface of the video generation API.
// It includes handlers, middleware, routes, and DTOs separated from
// domain types.
package server

import "time"

// CreateJobRequest is the HTTP request body for submitting a generation
// job.
type CreateJobRequest struct {
	// ProductID identifies the product the video is generated for.
	ProductID string `json:"product_id" validate:"required"`
	// InputAssets are the source image URLs, at least one.
	InputAssets []string `json:"input_assets" validate:"required,min=1,dive,url"`
	// Provider optionally pins a vendor; empty picks the best available.
	Provider string `json:"provider,omitempty"`
	// Prompt optionally overrides the generated prompt.
	Prompt string `json:"prompt,omitempty"`
	// NegativePrompt lists qualities to avoid.
	NegativePrompt string `json:"negative_prompt,omitempty"`
	// AspectRatio of the output video. Defaults to 9:16.
	AspectRatio string `json:"aspect_ratio,omitempty"`
	// Duration of the output video in seconds, 3-10. Defaults to 6.
	Duration int `json:"duration,omitempty"`
	// Template optionally names a prompt style template.
	Template string `json:"template,omitempty"`
}

// AssetResponse describes a stored output asset.
type AssetResponse struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// JobResponse is the HTTP representation of a generation job.
type JobResponse struct {
	ID          string         `json:"id"`
	ProductID   string         `json:"product_id"`
	Provider    string         `json:"provider"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	Prompt      string         `json:"prompt,omitempty"`
	AspectRatio string         `json:"aspect_ratio,omitempty"`
	Duration    int            `json:"duration,omitempty"`
	Error       string         `json:"error,omitempty"`
	OutputAsset *AssetResponse `json:"output_asset,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// JobListResponse wraps the job collection.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// ProvidersResponse lists the configured vendors in priority order.
type ProvidersResponse struct {
	Available []string `json:"available"`
}

// QueueStatsResponse reports work queue depth.
type QueueStatsResponse struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
