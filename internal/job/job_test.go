package job

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	j := New()

	if j.ID == "" {
		t.Error("expected job to have an ID")
	}
	if j.Status != StatusQueued {
		t.Errorf("expected status %s, got %s", StatusQueued, j.Status)
	}
	if j.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if j.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		// Valid transitions from QUEUED
		{"QUEUED to RUNNING", StatusQueued, StatusRunning, false},
		{"QUEUED to CANCELLED", StatusQueued, StatusCancelled, false},
		// Valid transitions from RUNNING
		{"RUNNING to COMPLETED", StatusRunning, StatusCompleted, false},
		{"RUNNING to FAILED", StatusRunning, StatusFailed, false},
		{"RUNNING to CANCELLED", StatusRunning, StatusCancelled, false},
		// Invalid transitions
		{"QUEUED to COMPLETED", StatusQueued, StatusCompleted, true},
		{"QUEUED to FAILED", StatusQueued, StatusFailed, true},
		{"COMPLETED to RUNNING", StatusCompleted, StatusRunning, true},
		{"COMPLETED to CANCELLED", StatusCompleted, StatusCancelled, true},
		{"FAILED to RUNNING", StatusFailed, StatusRunning, true},
		{"FAILED to COMPLETED", StatusFailed, StatusCompleted, true},
		{"CANCELLED to RUNNING", StatusCancelled, StatusRunning, true},
		{"CANCELLED to COMPLETED", StatusCancelled, StatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New()
			j.Status = tt.from

			err := j.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_TransitionStampsTimestamps(t *testing.T) {
	j := New()
	before := time.Now()

	if err := j.TransitionTo(StatusRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.StartedAt.Before(before) {
		t.Error("expected StartedAt to be stamped")
	}

	if err := j.TransitionTo(StatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be stamped on terminal status")
	}
}

func TestJob_SetProgressMonotonic(t *testing.T) {
	j := New()

	j.SetProgress(30)
	if j.Progress != 30 {
		t.Errorf("expected progress 30, got %d", j.Progress)
	}

	// Lower values never regress externally observed progress.
	j.SetProgress(10)
	if j.Progress != 30 {
		t.Errorf("expected progress to stay 30, got %d", j.Progress)
	}

	j.SetProgress(250)
	if j.Progress != 100 {
		t.Errorf("expected progress clamped to 100, got %d", j.Progress)
	}
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		j := New()
		j.Status = tt.status
		if got := j.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal() with status %s = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	j := New()
	j.InputAssets = []string{"https://img.example.com/1.png"}
	j.Metadata = map[string]any{"model": "gen3a_turbo"}
	j.OutputAsset = &AssetRef{URL: "https://cdn.example.com/v.mp4"}

	c := j.Clone()
	c.InputAssets[0] = "mutated"
	c.Metadata["model"] = "mutated"
	c.OutputAsset.URL = "mutated"

	if j.InputAssets[0] != "https://img.example.com/1.png" {
		t.Error("expected input assets to be copied")
	}
	if j.Metadata["model"] != "gen3a_turbo" {
		t.Error("expected metadata to be copied")
	}
	if j.OutputAsset.URL != "https://cdn.example.com/v.mp4" {
		t.Error("expected output asset to be copied")
	}
}
