package provider

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDownloadState_Constructors(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name     string
		state    DownloadState
		status   Status
		terminal bool
		active   bool
	}{
		{"not started", NotStarted(), StatusNotStarted, false, false},
		{"in progress", InProgress(Progress{Percent: 35}), StatusInProgress, false, true},
		{"completed", Completed(now, 12.5, 4096), StatusCompleted, true, false},
		{"failed", Failed("network interruption", "transfer", now), StatusFailed, true, false},
		{"cancelled", Cancelled(now), StatusCancelled, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.state.Status != tt.status {
				t.Errorf("Expected status %s, got %s", tt.status, tt.state.Status)
			}
			if tt.state.Terminal() != tt.terminal {
				t.Errorf("Expected Terminal()=%v", tt.terminal)
			}
			if tt.state.Active() != tt.active {
				t.Errorf("Expected Active()=%v", tt.active)
			}
			if err := tt.state.Validate(); err != nil {
				t.Errorf("Constructor produced invalid state: %v", err)
			}
		})
	}
}

func TestDownloadState_ValidateRejectsMixedPayloads(t *testing.T) {
	now := time.Now().UTC()

	bad := DownloadState{
		Status:       StatusCompleted,
		Completion:   &Completion{CompletedAt: now},
		Cancellation: &Cancellation{CancelledAt: now},
	}
	if err := bad.Validate(); err == nil {
		t.Error("Expected validation error for two payloads")
	}

	missing := DownloadState{Status: StatusFailed}
	if err := missing.Validate(); err == nil {
		t.Error("Expected validation error for missing payload")
	}

	extra := DownloadState{
		Status:   StatusNotStarted,
		Progress: &Progress{Percent: 1},
	}
	if err := extra.Validate(); err == nil {
		t.Error("Expected validation error for payload on not_started")
	}
}

func TestDownloadState_JSONRoundTrip(t *testing.T) {
	original := Failed("quota exceeded on completion", "quota_exceeded", time.Now().UTC().Truncate(time.Second))

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded DownloadState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if err := decoded.Validate(); err != nil {
		t.Fatalf("Decoded state invalid: %v", err)
	}
	if decoded.Failure == nil || decoded.Failure.Reason != "quota exceeded on completion" {
		t.Errorf("Failure payload not preserved: %+v", decoded)
	}
	if decoded.Progress != nil || decoded.Completion != nil || decoded.Cancellation != nil {
		t.Error("Unexpected extra payloads after round trip")
	}
}
