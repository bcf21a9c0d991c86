package provider

import (
	"errors"
	"testing"
)

func TestTypeIsValid(t *testing.T) {
	tests := []struct {
		name string
		t    Type
		want bool
	}{
		{"runway", TypeRunway, true},
		{"fal-pika", TypeFalPika, true},
		{"replicate", TypeReplicate, true},
		{"fal-luma", TypeFalLuma, true},
		{"empty", Type(""), false},
		{"unknown", Type("sora"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.t.IsValid(); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestTypesPriorityOrder(t *testing.T) {
	want := []Type{TypeRunway, TypeFalPika, TypeReplicate, TypeFalLuma}
	got := Types()
	if len(got) != len(want) {
		t.Fatalf("expected %d types, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateQueued, false},
		{StateProcessing, false},
		{StateCompleted, true},
		{StateFailed, true},
	}

	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestGenerateResultSynchronous(t *testing.T) {
	sync := GenerateResult{VideoURL: "https://cdn.example.com/video.mp4"}
	if !sync.Synchronous() {
		t.Error("expected result with video URL to be synchronous")
	}

	async := GenerateResult{ProviderJobID: "task-123"}
	if async.Synchronous() {
		t.Error("expected result with only a job ID to be asynchronous")
	}
}

func TestIsUpstream(t *testing.T) {
	ue := &UpstreamError{Provider: TypeRunway, StatusCode: 429, Body: "rate limited"}
	if !IsUpstream(ue) {
		t.Error("expected IsUpstream to match a bare UpstreamError")
	}

	wrapped := errors.Join(errors.New("generate"), ue)
	if !IsUpstream(wrapped) {
		t.Error("expected IsUpstream to match a wrapped UpstreamError")
	}

	if IsUpstream(errors.New("boom")) {
		t.Error("expected IsUpstream to reject a plain error")
	}
}
