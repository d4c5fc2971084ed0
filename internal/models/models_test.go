package models

import "testing"

func TestJobStatusTerminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusNeedsRepair, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to JobStatus }{
		{StatusQueued, StatusRunning},
		{StatusQueued, StatusCancelled},
		{StatusRunning, StatusSucceeded},
		{StatusRunning, StatusNeedsRepair},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCancelled},
		{StatusNeedsRepair, StatusRunning},
		{StatusNeedsRepair, StatusCancelled},
	}

	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
		}
	}

	statuses := []JobStatus{
		StatusQueued, StatusRunning, StatusNeedsRepair,
		StatusSucceeded, StatusFailed, StatusCancelled,
	}

	isAllowed := func(from, to JobStatus) bool {
		for _, tt := range allowed {
			if tt.from == from && tt.to == to {
				return true
			}
		}
		return false
	}

	// Everything not explicitly allowed is rejected, including every
	// transition out of a terminal status.
	for _, from := range statuses {
		for _, to := range statuses {
			if isAllowed(from, to) {
				continue
			}
			if CanTransition(from, to) {
				t.Errorf("CanTransition(%s, %s) = true, want false", from, to)
			}
		}
	}
}
