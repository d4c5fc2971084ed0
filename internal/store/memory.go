package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advisehq/plan-gateway/internal/models"
	"github.com/advisehq/plan-gateway/internal/plan"
)

// MemoryStore is a mutex-guarded in-memory Store. It is the default backend
// and the one the tests run against.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*models.GenerationJob
	events  map[string][]models.GenerationEvent
	nextID  map[string]int64
	plans   map[string]memoryPlan
	created []string // job ids in insertion order
}

type memoryPlan struct {
	ownerID string
	data    plan.Plan
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*models.GenerationJob),
		events: make(map[string][]models.GenerationEvent),
		nextID: make(map[string]int64),
		plans:  make(map[string]memoryPlan),
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	clone := *job
	s.jobs[job.ID] = &clone
	s.created = append(s.created, job.ID)
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) FindActiveJob(ctx context.Context, ownerID, requestRef string) (*models.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk newest-first so the most recent active job wins.
	for i := len(s.created) - 1; i >= 0; i-- {
		job := s.jobs[s.created[i]]
		if job.OwnerID != ownerID || job.RequestRef != requestRef {
			continue
		}
		if job.Status.Terminal() {
			continue
		}
		clone := *job
		return &clone, nil
	}
	return nil, ErrJobNotFound
}

func (s *MemoryStore) ListJobs(ctx context.Context, ownerID string) ([]*models.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.GenerationJob, 0)
	for _, id := range s.created {
		job := s.jobs[id]
		if job.OwnerID != ownerID {
			continue
		}
		clone := *job
		jobs = append(jobs, &clone)
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *MemoryStore) TransitionJob(ctx context.Context, jobID string, from, to models.JobStatus, update func(*models.GenerationJob)) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != from || !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, job.Status)
	}

	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	if update != nil {
		update(job)
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) Append(ctx context.Context, jobID string, eventType models.EventType, payload any) (*models.GenerationEvent, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID[jobID]++
	event := models.GenerationEvent{
		ID:        s.nextID[jobID],
		JobID:     jobID,
		Type:      eventType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	s.events[jobID] = append(s.events[jobID], event)
	return &event, nil
}

func (s *MemoryStore) ReadAfter(ctx context.Context, jobID string, cursor int64, limit int) ([]models.GenerationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[jobID]
	// Event ids are dense and ascending, so the slice offset is the cursor.
	start := int(cursor)
	if start < 0 {
		start = 0
	}
	if start >= len(events) {
		return nil, nil
	}
	end := len(events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]models.GenerationEvent, end-start)
	copy(out, events[start:end])
	return out, nil
}

func (s *MemoryStore) SavePlan(ctx context.Context, ownerID string, accepted plan.Plan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := uuid.NewString()
	s.plans[ref] = memoryPlan{ownerID: ownerID, data: accepted}
	return ref, nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, ownerID, planRef string) (plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.plans[planRef]
	if !ok || stored.ownerID != ownerID {
		return plan.Plan{}, ErrPlanNotFound
	}
	return stored.data, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return data, nil
}
