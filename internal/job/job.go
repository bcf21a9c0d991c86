// Package job provides the GenerationJob aggregate, its status state
// machine, the persistence ports, and the submission service that feeds
// the work queue.
package job

import (
	"errors"
	"time"

	"github.com/stylemotion/catwalk-api/internal/job/id"
	"github.com/stylemotion/catwalk-api/internal/provider"
)

// Status represents the current state of a GenerationJob.
type Status string

const (
	// StatusQueued indicates the job is waiting for a worker.
	StatusQueued Status = "QUEUED"
	// StatusRunning indicates a worker is executing the job.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the output video is stored durably.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job ended with an error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by the user.
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal returns true if no further transitions are permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrInvalidTransition is returned when a state transition is not
// allowed by the state machine.
var ErrInvalidTransition = errors.New("job: invalid state transition")

// validTransitions defines the job state machine. COMPLETED and FAILED
// are worker-driven and only reachable from RUNNING; CANCELLED is
// user-driven and reachable from any non-terminal state.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition checks whether moving from one status to another is
// allowed.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AssetRef describes a durably stored output asset.
type AssetRef struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Job is the durable record of one video-generation request: its inputs,
// lifecycle status, and outputs. The job ID doubles as the work queue
// correlation key.
//
// Invariants maintained by the aggregate and the repositories:
//   - status transitions follow validTransitions; terminal is final
//   - OutputAsset is set if and only if Status is COMPLETED
//   - Error is set if and only if Status is FAILED
//   - Progress is monotonic non-decreasing, clamped to 0-100
type Job struct {
	ID             string
	ProductID      string
	Provider       provider.Type
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Duration       int
	Template       string
	InputAssets    []string

	Status        Status
	Progress      int
	ProviderJobID string
	Metadata      map[string]any
	Error         string
	OutputAsset   *AssetRef

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	UpdatedAt   time.Time
}

// New creates a Job in QUEUED status with a generated identifier.
func New() *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id.Generate(),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo applies a status change in place, stamping the lifecycle
// timestamps. Returns ErrInvalidTransition when the state machine
// forbids the move. Concurrency control lives in the repositories, not
// here.
func (j *Job) TransitionTo(status Status) error {
	if !CanTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now().UTC()

	switch status {
	case StatusRunning:
		if j.StartedAt.IsZero() {
			j.StartedAt = j.UpdatedAt
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// SetProgress raises the progress percentage. Values below the current
// progress are ignored so externally observed progress never regresses.
func (j *Job) SetProgress(progress int) {
	if progress > 100 {
		progress = 100
	}
	if progress <= j.Progress {
		return
	}
	j.Progress = progress
	j.UpdatedAt = time.Now().UTC()
}

// IsTerminal returns true if the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand to callers.
func (j *Job) Clone() *Job {
	c := *j
	c.InputAssets = append([]string(nil), j.InputAssets...)
	if j.Metadata != nil {
		c.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	if j.OutputAsset != nil {
		asset := *j.OutputAsset
		c.OutputAsset = &asset
	}
	return &c
}
