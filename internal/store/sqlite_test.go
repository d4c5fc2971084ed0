package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisehq/plan-gateway/internal/models"
	"github.com/advisehq/plan-gateway/internal/plan"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	return s
}

func TestSQLiteStore_JobLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	job := newJob("j1", "owner-a", "student-1", models.StatusQueued)
	job.InputPayload = []byte(`{"takenCourses": []}`)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.JSONEq(t, `{"takenCourses": []}`, string(got.InputPayload))

	active, err := s.FindActiveJob(ctx, "owner-a", "student-1")
	require.NoError(t, err)
	assert.Equal(t, "j1", active.ID)

	got, err = s.TransitionJob(ctx, "j1", models.StatusQueued, models.StatusRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)

	_, err = s.TransitionJob(ctx, "j1", models.StatusQueued, models.StatusRunning, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err = s.TransitionJob(ctx, "j1", models.StatusRunning, models.StatusSucceeded, func(j *models.GenerationJob) {
		j.ResultPlanRef = "plan-1"
	})
	require.NoError(t, err)
	assert.Equal(t, "plan-1", got.ResultPlanRef)

	// Terminal jobs stop matching the active lookup.
	_, err = s.FindActiveJob(ctx, "owner-a", "student-1")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSQLiteStore_ListJobs(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	older := newJob("j1", "owner-a", "", models.StatusQueued)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.CreateJob(ctx, older))
	require.NoError(t, s.CreateJob(ctx, newJob("j2", "owner-a", "", models.StatusQueued)))
	require.NoError(t, s.CreateJob(ctx, newJob("j3", "owner-b", "", models.StatusQueued)))

	jobs, err := s.ListJobs(ctx, "owner-a")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j2", jobs[0].ID)
	assert.Equal(t, "j1", jobs[1].ID)
}

func TestSQLiteStore_EventLedger(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 5; i++ {
		ev, err := s.Append(ctx, "j1", models.EventTypeProgress, models.ProgressPayload{Percent: i})
		require.NoError(t, err)
		assert.Greater(t, ev.ID, lastID)
		lastID = ev.ID
	}

	events, err := s.ReadAfter(ctx, "j1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].ID, events[i-1].ID)
	}

	tail, err := s.ReadAfter(ctx, "j1", events[2].ID, 0)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, events[3].ID, tail[0].ID)

	limited, err := s.ReadAfter(ctx, "j1", 0, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	other, err := s.ReadAfter(ctx, "j2", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteStore_Plans(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	accepted := plan.Plan{Terms: []plan.Term{
		{Term: "Fall 2026", Courses: []plan.Course{{Code: "CS 150", Credits: 3}}},
	}}

	ref, err := s.SavePlan(ctx, "owner-a", accepted)
	require.NoError(t, err)

	got, err := s.GetPlan(ctx, "owner-a", ref)
	require.NoError(t, err)
	assert.Equal(t, accepted, got)

	_, err = s.GetPlan(ctx, "owner-b", ref)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}
