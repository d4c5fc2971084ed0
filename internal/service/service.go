package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advisehq/plan-gateway/internal/generator"
	"github.com/advisehq/plan-gateway/internal/models"
	"github.com/advisehq/plan-gateway/internal/plan"
	"github.com/advisehq/plan-gateway/internal/store"
	"github.com/advisehq/plan-gateway/pkg/logger"
)

var (
	// ErrJobNotFound indicates the requested job doesn't exist or belongs
	// to a different owner
	ErrJobNotFound = errors.New("job not found")
	// ErrPlanNotFound indicates the requested plan doesn't exist or belongs
	// to a different owner
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidPayload indicates the planning payload couldn't be parsed
	ErrInvalidPayload = errors.New("invalid planning payload")
)

const defaultMaxAttempts = 3

// PayloadProvider supplies the planning payload for a generation attempt.
// It is consulted once per attempt.
type PayloadProvider interface {
	FetchPayload(ctx context.Context, job *models.GenerationJob) (json.RawMessage, error)
}

// storedPayloadProvider re-reads the payload submitted with the job.
type storedPayloadProvider struct {
	jobs store.JobStore
}

func (p *storedPayloadProvider) FetchPayload(ctx context.Context, job *models.GenerationJob) (json.RawMessage, error) {
	current, err := p.jobs.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return current.InputPayload, nil
}

// Options tunes the job manager
type Options struct {
	// MaxAttempts bounds the repair loop; 0 means the default of 3
	MaxAttempts int

	// PayloadProvider overrides where attempt payloads come from; nil means
	// the payload stored with the job
	PayloadProvider PayloadProvider
}

// Service owns generation jobs: it creates them, runs each job's state
// machine on its own goroutine, and answers snapshot/event/plan queries.
type Service struct {
	store       store.Store
	generator   generator.Generator
	payloads    PayloadProvider
	logger      *logger.Logger
	maxAttempts int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new job manager
func NewService(st store.Store, gen generator.Generator, log *logger.Logger, opts Options) *Service {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	payloads := opts.PayloadProvider
	if payloads == nil {
		payloads = &storedPayloadProvider{jobs: st}
	}
	return &Service{
		store:       st,
		generator:   gen,
		payloads:    payloads,
		logger:      log,
		maxAttempts: maxAttempts,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// getLogger retrieves the request-scoped logger from context or falls back
// to the service logger
func (s *Service) getLogger(ctx context.Context) *logger.Logger {
	if ctxLogger, ok := ctx.Value("logger").(*logger.Logger); ok {
		return ctxLogger
	}
	return s.logger
}

// CreateJob creates a generation job and starts its runner. When requestRef
// is set and an active job already exists for the same owner and ref, that
// job is returned instead of creating a duplicate.
func (s *Service) CreateJob(ctx context.Context, ownerID, requestRef string, payload json.RawMessage) (*models.GenerationJob, bool, error) {
	log := s.getLogger(ctx)

	if _, err := plan.ParsePayload(payload); err != nil {
		log.Warn("service: rejecting unparseable payload", "owner_id", ownerID, "error", err)
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if requestRef != "" {
		existing, err := s.store.FindActiveJob(ctx, ownerID, requestRef)
		if err == nil {
			log.Info("service: reusing active job",
				"job_id", existing.ID,
				"owner_id", ownerID,
				"request_ref", requestRef,
				"status", existing.Status)
			return existing, true, nil
		}
		if !errors.Is(err, store.ErrJobNotFound) {
			return nil, false, fmt.Errorf("find active job: %w", err)
		}
	}

	now := time.Now().UTC()
	job := &models.GenerationJob{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		RequestRef:   requestRef,
		Status:       models.StatusQueued,
		Attempt:      1,
		InputPayload: payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		log.Error("service: failed to create job", "owner_id", ownerID, "error", err)
		return nil, false, fmt.Errorf("create job: %w", err)
	}

	s.appendEvent(job.ID, models.EventTypeProgress, models.ProgressPayload{
		Percent: 0,
		Message: "generation job queued",
	})

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.ID)
		s.runJob(runCtx, job.ID)
	}()

	log.Info("service: job created",
		"job_id", job.ID,
		"owner_id", ownerID,
		"request_ref", requestRef)

	return job, false, nil
}

// GetJob returns the current job snapshot, scoped to its owner
func (s *Service) GetJob(ctx context.Context, ownerID, jobID string) (*models.GenerationJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		// Foreign jobs answer exactly like missing ones.
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns the owner's jobs, newest first
func (s *Service) ListJobs(ctx context.Context, ownerID string) ([]*models.GenerationJob, error) {
	return s.store.ListJobs(ctx, ownerID)
}

// ListEvents returns ledger events with id > afterID for an owner's job
func (s *Service) ListEvents(ctx context.Context, ownerID, jobID string, afterID int64, limit int) ([]models.GenerationEvent, error) {
	if _, err := s.GetJob(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	return s.store.ReadAfter(ctx, jobID, afterID, limit)
}

// GetPlan returns an accepted plan by reference, scoped to its owner
func (s *Service) GetPlan(ctx context.Context, ownerID, planRef string) (plan.Plan, error) {
	accepted, err := s.store.GetPlan(ctx, ownerID, planRef)
	if errors.Is(err, store.ErrPlanNotFound) {
		return plan.Plan{}, ErrPlanNotFound
	}
	return accepted, err
}

// CancelJob requests cancellation of a job. Terminal jobs are returned
// unchanged; the call is idempotent.
func (s *Service) CancelJob(ctx context.Context, ownerID, jobID string) (*models.GenerationJob, error) {
	log := s.getLogger(ctx)

	job, err := s.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	// The runner may be transitioning concurrently; retry against whatever
	// status we observe until it is cancelled or terminal.
	for attempt := 0; attempt < 3; attempt++ {
		from := job.Status
		cancelled, err := s.store.TransitionJob(ctx, jobID, from, models.StatusCancelled, nil)
		if err == nil {
			s.appendEvent(jobID, models.EventTypeStatusChanged, models.StatusChangedPayload{
				From: from,
				To:   models.StatusCancelled,
			})
			s.release(jobID)
			log.Info("service: job cancelled", "job_id", jobID, "from", from)
			return cancelled, nil
		}
		if !errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("cancel job: %w", err)
		}
		job, err = s.GetJob(ctx, ownerID, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
	}
	return job, nil
}

// Stop cancels all running jobs and waits for their runners to exit. Used
// during gateway shutdown.
func (s *Service) Stop() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// release cancels and forgets a job's runner context
func (s *Service) release(jobID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	if ok {
		delete(s.cancels, jobID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// appendEvent writes a ledger event with a detached context: job history
// must survive request or runner cancellation.
func (s *Service) appendEvent(jobID string, eventType models.EventType, payload any) {
	if _, err := s.store.Append(context.Background(), jobID, eventType, payload); err != nil {
		s.logger.Error("service: failed to append event",
			"job_id", jobID,
			"event_type", eventType,
			"error", err)
	}
}
