package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisehq/plan-gateway/internal/config"
	"github.com/advisehq/plan-gateway/internal/generator"
	"github.com/advisehq/plan-gateway/internal/models"
	"github.com/advisehq/plan-gateway/internal/plan"
	"github.com/advisehq/plan-gateway/internal/service"
	"github.com/advisehq/plan-gateway/internal/store"
	"github.com/advisehq/plan-gateway/pkg/logger"
)

const testPayload = `{
	"takenCourses": [{"code": "ENG 101", "status": "completed", "grade": "A"}],
	"programs": [{"programType": "major", "requirements": [
		{"requirementId": "req-core", "selectedCourses": [{"code": "MATH 201"}, {"code": "CS 150"}]}
	]}],
	"suggestedDistribution": [
		{"term": "Fall", "year": 2026, "minCredits": 6, "maxCredits": 15}
	]
}`

func passingGenerator() generator.Generator {
	return generator.Func(func(ctx context.Context, req generator.Request) (plan.Plan, error) {
		return plan.Plan{Terms: []plan.Term{
			{Term: "Fall 2026", Courses: []plan.Course{
				{Code: "MATH 201", Credits: 4},
				{Code: "CS 150", Credits: 3},
			}},
		}}, nil
	})
}

func newTestServer(t *testing.T, gen generator.Generator) *httptest.Server {
	t.Helper()
	return newTestServerWithStore(t, store.NewMemoryStore(), gen)
}

func newTestServerWithStore(t *testing.T, st store.Store, gen generator.Generator) *httptest.Server {
	t.Helper()

	svc := service.NewService(st, gen, logger.NewNop(), service.Options{})
	t.Cleanup(svc.Stop)

	handlers := NewHandlers(svc)
	auth := NewAuthMiddleware([]config.APIKey{
		{Name: "owner-a", Key: "key-a"},
		{Name: "owner-b", Key: "key-b"},
	})
	logging := NewLoggingMiddleware(logger.NewNop())
	router := NewRouter(handlers, auth, logging)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, key string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJob(t *testing.T, resp *http.Response) models.GenerationJob {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Job models.GenerationJob `json:"job"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Job
}

// waitTerminal polls the API until the job reaches a terminal status.
func waitTerminal(t *testing.T, srv *httptest.Server, key, jobID string) models.GenerationJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := doRequest(t, srv, "GET", "/v1/plan-jobs/"+jobID, key, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		job := decodeJob(t, resp)
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return models.GenerationJob{}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	resp := doRequest(t, srv, "GET", "/health", "", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic key-a", http.StatusUnauthorized},
		{"unknown key", "Bearer nope", http.StatusUnauthorized},
		{"valid key", "Bearer key-a", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest("GET", srv.URL+"/v1/plan-jobs", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestCreateJob(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	body := `{"request_ref": "student-1", "payload": ` + testPayload + `}`
	resp := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(body))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decodeJob(t, resp)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "student-1", job.RequestRef)

	done := waitTerminal(t, srv, "key-a", job.ID)
	assert.Equal(t, models.StatusSucceeded, done.Status)
	assert.NotEmpty(t, done.ResultPlanRef)

	// The accepted plan is retrievable by its reference.
	planResp := doRequest(t, srv, "GET", "/v1/plans/"+done.ResultPlanRef, "key-a", nil)
	defer planResp.Body.Close()
	assert.Equal(t, http.StatusOK, planResp.StatusCode)

	// Foreign owners get a 404 for the same reference.
	foreign := doRequest(t, srv, "GET", "/v1/plans/"+done.ResultPlanRef, "key-b", nil)
	defer foreign.Body.Close()
	assert.Equal(t, http.StatusNotFound, foreign.StatusCode)
}

func TestCreateJob_ReusedReturns200(t *testing.T) {
	blocked := make(chan struct{})
	gen := generator.Func(func(ctx context.Context, req generator.Request) (plan.Plan, error) {
		select {
		case <-blocked:
		case <-ctx.Done():
		}
		return plan.Plan{}, ctx.Err()
	})
	srv := newTestServer(t, gen)
	defer close(blocked)

	body := `{"request_ref": "student-1", "payload": ` + testPayload + `}`

	first := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(body))
	require.Equal(t, http.StatusCreated, first.StatusCode)
	firstJob := decodeJob(t, first)

	second := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(body))
	require.Equal(t, http.StatusOK, second.StatusCode)
	secondJob := decodeJob(t, second)

	assert.Equal(t, firstJob.ID, secondJob.ID)
}

func TestCreateJob_BadRequests(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	tests := []struct {
		name string
		body string
	}{
		{"not json", `not json`},
		{"missing payload", `{"request_ref": "student-1"}`},
		{"garbage payload", `{"payload": [1, 2, 3]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(tt.body))
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetJob_NotFound(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	resp := doRequest(t, srv, "GET", "/v1/plan-jobs/nope", "key-a", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Error struct {
			Message   string `json:"message"`
			Code      int    `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusNotFound, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestGetJob_ForeignOwner404(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	body := `{"payload": ` + testPayload + `}`
	resp := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(body))
	job := decodeJob(t, resp)

	foreign := doRequest(t, srv, "GET", "/v1/plan-jobs/"+job.ID, "key-b", nil)
	defer foreign.Body.Close()
	assert.Equal(t, http.StatusNotFound, foreign.StatusCode)
}

func TestListJobs_StatusFilter(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	body := `{"payload": ` + testPayload + `}`
	resp := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(body))
	job := decodeJob(t, resp)
	waitTerminal(t, srv, "key-a", job.ID)

	listResp := doRequest(t, srv, "GET", "/v1/plan-jobs?status=succeeded", "key-a", nil)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var list struct {
		Jobs []models.GenerationJob `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, job.ID, list.Jobs[0].ID)

	empty := doRequest(t, srv, "GET", "/v1/plan-jobs?status=failed", "key-a", nil)
	defer empty.Body.Close()
	var emptyList struct {
		Jobs []models.GenerationJob `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(empty.Body).Decode(&emptyList))
	assert.Empty(t, emptyList.Jobs)
}

func TestCancelJob(t *testing.T) {
	gen := generator.Func(func(ctx context.Context, req generator.Request) (plan.Plan, error) {
		<-ctx.Done()
		return plan.Plan{}, ctx.Err()
	})
	srv := newTestServer(t, gen)

	body := `{"payload": ` + testPayload + `}`
	resp := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(body))
	job := decodeJob(t, resp)

	cancelResp := doRequest(t, srv, "POST", "/v1/plan-jobs/"+job.ID+"/cancel", "key-a", nil)
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)
	cancelled := decodeJob(t, cancelResp)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
}

func TestStreamEvents(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	body := `{"payload": ` + testPayload + `}`
	resp := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(body))
	job := decodeJob(t, resp)
	waitTerminal(t, srv, "key-a", job.ID)

	// The job is terminal, so the stream drains the ledger and closes.
	streamResp := doRequest(t, srv, "GET", "/v1/plan-jobs/"+job.ID+"/events", "key-a", nil)
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	assert.Equal(t, "text/event-stream", streamResp.Header.Get("Content-Type"))

	frames := readFrames(t, streamResp.Body)

	require.NotEmpty(t, frames)
	assert.Equal(t, "connected", frames[0].event)

	// Ledger events arrive with strictly increasing ids and end with the
	// terminal status change.
	var lastID int64
	var lastEvent string
	for _, f := range frames[1:] {
		if f.id != "" {
			id, err := strconv.ParseInt(f.id, 10, 64)
			require.NoError(t, err)
			assert.Greater(t, id, lastID)
			lastID = id
		}
		lastEvent = f.event
	}
	assert.Equal(t, string(models.EventTypeStatusChanged), lastEvent)
}

// completeOnReadStore finishes its job right after the first ledger read
// returns, so the stream's following snapshot fetch observes a terminal
// status with the final status_changed event still undelivered.
type completeOnReadStore struct {
	store.Store
	jobID string
	once  sync.Once
}

func (s *completeOnReadStore) ReadAfter(ctx context.Context, jobID string, cursor int64, limit int) ([]models.GenerationEvent, error) {
	events, err := s.Store.ReadAfter(ctx, jobID, cursor, limit)
	s.once.Do(func() {
		if _, terr := s.Store.TransitionJob(context.Background(), s.jobID, models.StatusRunning, models.StatusSucceeded, nil); terr == nil {
			s.Store.Append(context.Background(), s.jobID, models.EventTypeStatusChanged, models.StatusChangedPayload{
				From: models.StatusRunning,
				To:   models.StatusSucceeded,
			})
		}
	})
	return events, err
}

func TestStreamEvents_TerminalDuringPoll(t *testing.T) {
	blocked := generator.Func(func(ctx context.Context, req generator.Request) (plan.Plan, error) {
		<-ctx.Done()
		return plan.Plan{}, ctx.Err()
	})
	wrapped := &completeOnReadStore{Store: store.NewMemoryStore()}
	srv := newTestServerWithStore(t, wrapped, blocked)

	body := `{"payload": ` + testPayload + `}`
	resp := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(body))
	job := decodeJob(t, resp)
	wrapped.jobID = job.ID

	// The injected transition is only legal once the runner is running.
	deadline := time.Now().Add(5 * time.Second)
	for {
		current := decodeJob(t, doRequest(t, srv, "GET", "/v1/plan-jobs/"+job.ID, "key-a", nil))
		if current.Status == models.StatusRunning {
			break
		}
		require.True(t, time.Now().Before(deadline), "job never started running")
		time.Sleep(5 * time.Millisecond)
	}

	streamResp := doRequest(t, srv, "GET", "/v1/plan-jobs/"+job.ID+"/events", "key-a", nil)
	defer streamResp.Body.Close()
	frames := readFrames(t, streamResp.Body)

	// Even though the job went terminal mid-poll, the stream must deliver
	// the final status_changed event before closing.
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, string(models.EventTypeStatusChanged), last.event)
	assert.Contains(t, last.data, string(models.StatusSucceeded))
}

func TestStreamEvents_ResumeFromCursor(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	body := `{"payload": ` + testPayload + `}`
	resp := doRequest(t, srv, "POST", "/v1/plan-jobs", "key-a", []byte(body))
	job := decodeJob(t, resp)
	waitTerminal(t, srv, "key-a", job.ID)

	full := doRequest(t, srv, "GET", "/v1/plan-jobs/"+job.ID+"/events", "key-a", nil)
	fullFrames := readFrames(t, full.Body)
	full.Body.Close()
	totalLedger := 0
	for _, f := range fullFrames {
		if f.id != "" {
			totalLedger++
		}
	}
	require.Greater(t, totalLedger, 2)

	// Resuming via Last-Event-ID skips already-delivered events.
	req, err := http.NewRequest("GET", srv.URL+"/v1/plan-jobs/"+job.ID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer key-a")
	req.Header.Set("Last-Event-ID", "2")
	resumed, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resumed.Body.Close()

	resumedLedger := 0
	for _, f := range readFrames(t, resumed.Body) {
		if f.id != "" {
			assert.NotEqual(t, "1", f.id)
			assert.NotEqual(t, "2", f.id)
			resumedLedger++
		}
	}
	assert.Equal(t, totalLedger-2, resumedLedger)
}

func TestStreamEvents_UnknownJob404(t *testing.T) {
	srv := newTestServer(t, passingGenerator())

	resp := doRequest(t, srv, "GET", "/v1/plan-jobs/nope/events", "key-a", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type sseFrame struct {
	id    string
	event string
	data  string
}

// readFrames parses an SSE body into frames, reading until the server
// closes the stream.
func readFrames(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()

	var frames []sseFrame
	var current sseFrame
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current != (sseFrame{}) {
				frames = append(frames, current)
			}
			current = sseFrame{}
		case strings.HasPrefix(line, "id: "):
			current.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}
