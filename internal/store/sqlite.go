package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/advisehq/plan-gateway/internal/models"
	"github.com/advisehq/plan-gateway/internal/plan"
)

// SQLiteStore is a gorm-backed Store for single-node durable deployments.
// Event ids come from the table's autoincrement key, which keeps them
// strictly increasing within a job and immutable once written.
type SQLiteStore struct {
	db *gorm.DB
}

type jobRow struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"index:idx_jobs_owner"`
	RequestRef    string `gorm:"index:idx_jobs_owner"`
	Status        string `gorm:"index"`
	Attempt       int
	ResultPlanRef string
	ErrorMessage  string
	InputPayload  []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (jobRow) TableName() string { return "generation_jobs" }

type eventRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	JobID     string `gorm:"index:idx_events_job"`
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

func (eventRow) TableName() string { return "generation_job_events" }

type planRow struct {
	Ref       string `gorm:"primaryKey"`
	OwnerID   string `gorm:"index"`
	Data      []byte
	CreatedAt time.Time
}

func (planRow) TableName() string { return "generated_plans" }

// NewSQLiteStore opens (or creates) the database at path and migrates the
// job, event, and plan tables.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&jobRow{}, &eventRow{}, &planRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.GenerationJob) error {
	row := jobToRow(job)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	var row jobRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rowToJob(&row), nil
}

func (s *SQLiteStore) FindActiveJob(ctx context.Context, ownerID, requestRef string) (*models.GenerationJob, error) {
	var row jobRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND request_ref = ? AND status NOT IN ?", ownerID, requestRef,
			[]string{string(models.StatusSucceeded), string(models.StatusFailed), string(models.StatusCancelled)}).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return rowToJob(&row), nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, ownerID string) ([]*models.GenerationJob, error) {
	var rows []jobRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*models.GenerationJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rowToJob(&rows[i]))
	}
	return jobs, nil
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, jobID string, from, to models.JobStatus, update func(*models.GenerationJob)) (*models.GenerationJob, error) {
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	var updated *models.GenerationJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row jobRow
		err := tx.First(&row, "id = ?", jobID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if row.Status != string(from) {
			return fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, row.Status)
		}

		job := rowToJob(&row)
		job.Status = to
		job.UpdatedAt = time.Now().UTC()
		if update != nil {
			update(job)
		}

		next := jobToRow(job)
		// Guard the status again in the update so a concurrent writer loses.
		result := tx.Model(&jobRow{}).
			Where("id = ? AND status = ?", jobID, string(from)).
			Updates(map[string]any{
				"status":          next.Status,
				"attempt":         next.Attempt,
				"result_plan_ref": next.ResultPlanRef,
				"error_message":   next.ErrorMessage,
				"updated_at":      next.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s -> %s (lost race)", ErrInvalidTransition, from, to)
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteStore) Append(ctx context.Context, jobID string, eventType models.EventType, payload any) (*models.GenerationEvent, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	row := eventRow{
		JobID:     jobID,
		Type:      string(eventType),
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return &models.GenerationEvent{
		ID:        row.ID,
		JobID:     row.JobID,
		Type:      eventType,
		Payload:   row.Payload,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *SQLiteStore) ReadAfter(ctx context.Context, jobID string, cursor int64, limit int) ([]models.GenerationEvent, error) {
	query := s.db.WithContext(ctx).
		Where("job_id = ? AND id > ?", jobID, cursor).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []eventRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	events := make([]models.GenerationEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, models.GenerationEvent{
			ID:        row.ID,
			JobID:     row.JobID,
			Type:      models.EventType(row.Type),
			Payload:   row.Payload,
			CreatedAt: row.CreatedAt,
		})
	}
	return events, nil
}

func (s *SQLiteStore) SavePlan(ctx context.Context, ownerID string, accepted plan.Plan) (string, error) {
	data, err := json.Marshal(accepted)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	row := planRow{
		Ref:       uuid.NewString(),
		OwnerID:   ownerID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("save plan: %w", err)
	}
	return row.Ref, nil
}

func (s *SQLiteStore) GetPlan(ctx context.Context, ownerID, planRef string) (plan.Plan, error) {
	var row planRow
	err := s.db.WithContext(ctx).First(&row, "ref = ? AND owner_id = ?", planRef, ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return plan.Plan{}, ErrPlanNotFound
	}
	if err != nil {
		return plan.Plan{}, fmt.Errorf("get plan: %w", err)
	}
	var stored plan.Plan
	if err := json.Unmarshal(row.Data, &stored); err != nil {
		return plan.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return stored, nil
}

func jobToRow(job *models.GenerationJob) jobRow {
	return jobRow{
		ID:            job.ID,
		OwnerID:       job.OwnerID,
		RequestRef:    job.RequestRef,
		Status:        string(job.Status),
		Attempt:       job.Attempt,
		ResultPlanRef: job.ResultPlanRef,
		ErrorMessage:  job.ErrorMessage,
		InputPayload:  job.InputPayload,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}

func rowToJob(row *jobRow) *models.GenerationJob {
	return &models.GenerationJob{
		ID:            row.ID,
		OwnerID:       row.OwnerID,
		RequestRef:    row.RequestRef,
		Status:        models.JobStatus(row.Status),
		Attempt:       row.Attempt,
		ResultPlanRef: row.ResultPlanRef,
		ErrorMessage:  row.ErrorMessage,
		InputPayload:  row.InputPayload,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
