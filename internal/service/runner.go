package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/advisehq/plan-gateway/internal/generator"
	"github.com/advisehq/plan-gateway/internal/models"
	"github.com/advisehq/plan-gateway/internal/plan"
	"github.com/advisehq/plan-gateway/internal/store"
	"github.com/advisehq/plan-gateway/internal/validation"
)

// Progress percentages reported over the job's lifetime. Generation is the
// only long-running step, so the scale is coarse.
const (
	progressGenerating = 15
	progressValidating = 70
	progressRepairing  = 85
)

// runJob drives one job through the state machine until it reaches a
// terminal status. It is the job's single writer: nothing else mutates the
// job's status except an external cancel, which the CAS transitions detect.
func (s *Service) runJob(ctx context.Context, jobID string) {
	log := s.logger.With("job_id", jobID)

	job, err := s.store.GetJob(context.Background(), jobID)
	if err != nil {
		log.Error("runner: job vanished before start", "error", err)
		return
	}

	if !s.transition(jobID, models.StatusQueued, models.StatusRunning, nil) {
		// Cancelled while queued.
		return
	}

	var draft *plan.Plan
	var repairPhases []validation.RepairPhase
	attempt := 1

	for {
		rawPayload, err := s.payloads.FetchPayload(ctx, job)
		if err != nil {
			s.failJob(jobID, fmt.Sprintf("fetch planning payload: %v", err))
			return
		}
		payload, err := plan.ParsePayload(rawPayload)
		if err != nil {
			s.failJob(jobID, fmt.Sprintf("parse planning payload: %v", err))
			return
		}

		s.appendEvent(jobID, models.EventTypeProgress, models.ProgressPayload{
			Percent: progressGenerating,
			Message: fmt.Sprintf("generating candidate plan (attempt %d)", attempt),
		})

		candidate, err := s.generator.Generate(ctx, generator.Request{
			RawPayload:   rawPayload,
			Payload:      payload,
			Draft:        draft,
			RepairPhases: repairPhases,
			Attempt:      attempt,
		})
		if err != nil {
			if ctx.Err() != nil {
				// External cancellation already transitioned the job.
				log.Debug("runner: generation aborted by cancellation")
				return
			}
			log.Error("runner: generation failed", "attempt", attempt, "error", err)
			s.failJob(jobID, fmt.Sprintf("generation failed: %v", err))
			return
		}

		s.appendEvent(jobID, models.EventTypeProgress, models.ProgressPayload{
			Percent: progressValidating,
			Message: "validating candidate plan",
		})

		result := validation.Validate(payload, candidate)
		if result.Valid {
			planRef, err := s.store.SavePlan(context.Background(), job.OwnerID, candidate)
			if err != nil {
				log.Error("runner: failed to persist accepted plan", "error", err)
				s.failJob(jobID, fmt.Sprintf("persist plan: %v", err))
				return
			}
			if s.transition(jobID, models.StatusRunning, models.StatusSucceeded, func(j *models.GenerationJob) {
				j.ResultPlanRef = planRef
			}) {
				log.Info("runner: job succeeded", "attempt", attempt, "plan_ref", planRef)
			}
			return
		}

		log.Info("runner: validation found issues",
			"attempt", attempt,
			"issue_count", len(result.Issues),
			"repair_phases", len(result.SuggestedRepairPhases))

		for _, issue := range result.Issues {
			s.appendEvent(jobID, models.EventTypeValidationIssue, issue)
		}

		if attempt >= s.maxAttempts {
			s.failJob(jobID, fmt.Sprintf("validation failed after %d attempts", attempt))
			return
		}

		s.appendEvent(jobID, models.EventTypeRepairRequested, models.RepairRequestedPayload{
			Attempt: attempt + 1,
			Phases:  phaseStrings(result.SuggestedRepairPhases),
		})

		if !s.transition(jobID, models.StatusRunning, models.StatusNeedsRepair, nil) {
			return
		}

		s.appendEvent(jobID, models.EventTypeProgress, models.ProgressPayload{
			Percent: progressRepairing,
			Message: fmt.Sprintf("repair pass %d", attempt),
		})

		attempt++
		if !s.transition(jobID, models.StatusNeedsRepair, models.StatusRunning, func(j *models.GenerationJob) {
			j.Attempt = attempt
		}) {
			return
		}

		draft = &candidate
		repairPhases = result.SuggestedRepairPhases
		if len(repairPhases) == 0 {
			repairPhases = []validation.RepairPhase{validation.PhaseElectiveFill}
		}
	}
}

// transition applies one CAS status transition and emits its status_changed
// event. Returns false when the transition was rejected, which means an
// external cancel won the race and the runner should stop.
func (s *Service) transition(jobID string, from, to models.JobStatus, update func(*models.GenerationJob)) bool {
	_, err := s.store.TransitionJob(context.Background(), jobID, from, to, update)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			s.logger.Debug("runner: transition rejected",
				"job_id", jobID,
				"from", from,
				"to", to)
		} else {
			s.logger.Error("runner: transition failed",
				"job_id", jobID,
				"from", from,
				"to", to,
				"error", err)
		}
		return false
	}
	s.appendEvent(jobID, models.EventTypeStatusChanged, models.StatusChangedPayload{From: from, To: to})
	return true
}

// failJob records the failure reason and moves the job to failed.
func (s *Service) failJob(jobID, reason string) {
	s.appendEvent(jobID, models.EventTypeError, models.ErrorPayload{Message: reason})
	s.transition(jobID, models.StatusRunning, models.StatusFailed, func(j *models.GenerationJob) {
		j.ErrorMessage = reason
	})
}

func phaseStrings(phases []validation.RepairPhase) []string {
	out := make([]string, 0, len(phases))
	for _, phase := range phases {
		out = append(out, string(phase))
	}
	return out
}
