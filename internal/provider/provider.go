// Package provider defines the vendor-neutral contract for external
// video-generation services and the adapters that implement it.
// Adapters translate requests into each vendor's calling convention and
// normalize vendor status vocabularies into a shared one; they never
// touch the job store.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Type identifies a supported video-generation vendor.
type Type string

// Supported vendors.
const (
	TypeRunway    Type = "runway"
	TypeFalPika   Type = "fal-pika"
	TypeReplicate Type = "replicate"
	TypeFalLuma   Type = "fal-luma"
)

// Types lists all known vendor types in default fallback priority order.
func Types() []Type {
	return []Type{TypeRunway, TypeFalPika, TypeReplicate, TypeFalLuma}
}

// IsValid returns true if the type names a known vendor.
func (t Type) IsValid() bool {
	switch t {
	case TypeRunway, TypeFalPika, TypeReplicate, TypeFalLuma:
		return true
	default:
		return false
	}
}

// State is the shared job-state vocabulary all vendor statuses map into.
type State string

// Shared states. Unknown vendor states must map to StateProcessing so a
// job is never silently dropped.
const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// IsTerminal returns true if the state is final from the vendor's view.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// GenerateInput is a vendor-neutral generation request.
type GenerateInput struct {
	// Images is an ordered sequence of input image URLs. The first image
	// is the primary frame; vendors that accept a single image use it.
	Images []string
	// Prompt is the positive prompt text.
	Prompt string
	// NegativePrompt is optional and ignored by vendors without support.
	NegativePrompt string
	// AspectRatio is the logical ratio ("9:16", "16:9", "1:1", "4:5").
	// Adapters convert it to the vendor's own vocabulary.
	AspectRatio string
	// Duration is the requested clip length in seconds.
	Duration int
	// Seed pins vendor randomness when non-nil.
	Seed *int64
	// Template is an optional template identifier carried as metadata.
	Template string
}

// GenerateResult is the outcome of submitting a generation request.
// Exactly one of VideoURL or ProviderJobID is populated: a synchronous
// vendor returns the finished asset directly, a polling vendor returns a
// tracking identifier for GetStatus.
type GenerateResult struct {
	VideoURL      string
	ProviderJobID string
	Metadata      map[string]any
}

// Synchronous reports whether the vendor produced the asset inline.
func (r GenerateResult) Synchronous() bool {
	return r.VideoURL != ""
}

// Status is a normalized view of a vendor job's progress.
type Status struct {
	State State
	// Progress is a 0-100 percentage when the vendor reports one.
	Progress *int
	// VideoURL is set when State is StateCompleted.
	VideoURL string
	// Message carries the vendor's error text when State is StateFailed.
	Message string
}

// VideoProvider is the capability interface every vendor adapter
// implements. Implementations are pure request/response translators:
// safe for concurrent use and free of pipeline side effects.
type VideoProvider interface {
	// Name returns the vendor type the adapter serves.
	Name() Type

	// Generate submits a generation request. A missing or rejected input
	// surfaces as an error; vendor-side rejections carry *UpstreamError.
	Generate(ctx context.Context, input GenerateInput) (GenerateResult, error)

	// GetStatus polls a previously submitted vendor job.
	GetStatus(ctx context.Context, providerJobID string) (Status, error)

	// Cancel asks the vendor to stop a job. Best effort: a false return
	// means the job may still finish upstream and late outcomes must be
	// discarded by the caller.
	Cancel(ctx context.Context, providerJobID string) (bool, error)
}

// Static errors shared by the adapters.
var (
	// ErrMissingCredential is returned at construction time when the
	// vendor's API key is absent. Fail fast, never per call.
	ErrMissingCredential = errors.New("provider: required credential is not configured")
	// ErrNoInputImage is returned when a generation request carries no
	// input images.
	ErrNoInputImage = errors.New("provider: at least one input image is required")
	// ErrJobIDRequired is returned when a status or cancel call is made
	// without a vendor job ID.
	ErrJobIDRequired = errors.New("provider: vendor job ID is required")
)

// UpstreamError reports a non-2xx vendor response. The raw vendor body is
// retained verbatim for operator visibility; the worker treats these as
// transient and applies its retry policy.
type UpstreamError struct {
	Provider   Type
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// IsUpstream reports whether err is (or wraps) an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
