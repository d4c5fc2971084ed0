// Package store defines the persistence contracts for generation jobs, the
// append-only event ledger, and accepted plans, together with an in-memory
// implementation and a sqlite-backed one. The job runner is the single
// writer for a job; any number of event-stream readers may tail the ledger
// concurrently.
package store

import (
	"context"
	"errors"

	"github.com/advisehq/plan-gateway/internal/models"
	"github.com/advisehq/plan-gateway/internal/plan"
)

var (
	// ErrJobNotFound indicates the requested generation job doesn't exist
	ErrJobNotFound = errors.New("generation job not found")

	// ErrPlanNotFound indicates the requested plan doesn't exist
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidTransition indicates a status transition outside the job
	// state machine, including any transition out of a terminal status
	ErrInvalidTransition = errors.New("illegal job status transition")
)

// JobStore persists generation job snapshots
type JobStore interface {
	// CreateJob inserts a new job row
	CreateJob(ctx context.Context, job *models.GenerationJob) error

	// GetJob retrieves a job by id
	GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error)

	// FindActiveJob returns the newest non-terminal job for an owner and
	// request reference, or ErrJobNotFound
	FindActiveJob(ctx context.Context, ownerID, requestRef string) (*models.GenerationJob, error)

	// ListJobs returns all jobs belonging to an owner, newest first
	ListJobs(ctx context.Context, ownerID string) ([]*models.GenerationJob, error)

	// TransitionJob atomically moves a job from one status to another.
	// It fails with ErrInvalidTransition when the job is not currently in
	// the expected status or the transition is not in the state machine.
	// The update callback mutates the job under the same lock/transaction.
	TransitionJob(ctx context.Context, jobID string, from, to models.JobStatus, update func(*models.GenerationJob)) (*models.GenerationJob, error)
}

// EventLedger is the append-only, monotonically-ordered event log
type EventLedger interface {
	// Append assigns the next strictly increasing event id for the job and
	// stores the event. The payload is marshaled to JSON.
	Append(ctx context.Context, jobID string, eventType models.EventType, payload any) (*models.GenerationEvent, error)

	// ReadAfter returns events with id > cursor in ascending id order,
	// truncated to limit
	ReadAfter(ctx context.Context, jobID string, cursor int64, limit int) ([]models.GenerationEvent, error)
}

// PlanStore persists accepted plans
type PlanStore interface {
	// SavePlan stores an accepted plan and returns its opaque reference
	SavePlan(ctx context.Context, ownerID string, accepted plan.Plan) (string, error)

	// GetPlan retrieves a plan by reference, scoped to its owner
	GetPlan(ctx context.Context, ownerID, planRef string) (plan.Plan, error)
}

// Store bundles the three persistence contracts the gateway wires together
type Store interface {
	JobStore
	EventLedger
	PlanStore
}
