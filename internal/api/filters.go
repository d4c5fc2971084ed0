package api

import (
	"strings"

	"github.com/advisehq/plan-gateway/internal/models"
)

// FilterJobs filters jobs based on query parameters
func FilterJobs(jobs []*models.GenerationJob, status string) []*models.GenerationJob {
	if status == "" {
		return jobs
	}

	filtered := make([]*models.GenerationJob, 0, len(jobs))
	statusLower := strings.ToLower(status)

	for _, j := range jobs {
		if string(j.Status) != statusLower {
			continue
		}

		filtered = append(filtered, j)
	}

	return filtered
}
