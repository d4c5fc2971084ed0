package api

import (
	"testing"

	"github.com/advisehq/plan-gateway/internal/models"
)

func TestFilterJobs(t *testing.T) {
	jobs := []*models.GenerationJob{
		{ID: "j1", Status: models.StatusQueued},
		{ID: "j2", Status: models.StatusRunning},
		{ID: "j3", Status: models.StatusSucceeded},
		{ID: "j4", Status: models.StatusSucceeded},
	}

	tests := []struct {
		name   string
		status string
		want   int
	}{
		{"no filter", "", 4},
		{"queued", "queued", 1},
		{"running", "running", 1},
		{"succeeded", "succeeded", 2},
		{"uppercase", "SUCCEEDED", 2},
		{"no matches", "failed", 0},
		{"unknown status", "bogus", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterJobs(jobs, tt.status)
			if len(got) != tt.want {
				t.Errorf("FilterJobs() = %d jobs, want %d", len(got), tt.want)
			}
		})
	}
}
