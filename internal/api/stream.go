package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/advisehq/plan-gateway/internal/models"
)

const (
	// streamPollInterval is how often the ledger is checked for new events.
	streamPollInterval = 1 * time.Second

	// streamBatchLimit caps how many events a single poll may deliver.
	streamBatchLimit = 200

	// streamIdlePolls is the number of empty polls before a keep-alive
	// comment is written to hold the connection open through proxies.
	streamIdlePolls = 5

	// streamRetryMillis is the reconnect delay advertised to EventSource
	// clients in the stream preamble.
	streamRetryMillis = 2000
)

// StreamEvents handles GET /v1/plan-jobs/{job_id}/events
//
// Events are delivered as Server-Sent Events. Each frame carries the
// ledger event ID in the SSE id field, so a reconnecting client resumes
// from where it left off via the Last-Event-ID header (or the after_id
// query parameter). The stream closes once the job reaches a terminal
// status and every remaining event has been delivered.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	log := GetLogger(r.Context())
	identity := GetIdentity(r.Context())
	jobID := chi.URLParam(r, "job_id")

	// Validate ownership before committing to the SSE response.
	job, err := h.service.GetJob(r.Context(), identity, jobID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if log != nil {
		log.Info("starting event stream", "job_id", jobID, "status", job.Status)
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		if log != nil {
			log.Error("streaming not supported by response writer")
		}
		respondError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	cursor := resumeCursor(r)

	// Send reconnect hint and initial connection success event
	requestID := GetRequestID(r.Context())
	fmt.Fprintf(w, "retry: %d\n\n", streamRetryMillis)
	fmt.Fprintf(w, "event: connected\ndata: {\"request_id\":\"%s\"}\n\n", requestID)
	flusher.Flush()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	idle := 0
	for {
		events, err := h.service.ListEvents(r.Context(), identity, jobID, cursor, streamBatchLimit)
		if err != nil {
			if log != nil {
				log.Error("event stream read failed",
					"job_id", jobID,
					"cursor", cursor,
					"error", err)
			}
			fmt.Fprintf(w, "event: error\ndata: {\"message\":\"stream error\",\"request_id\":\"%s\"}\n\n", requestID)
			flusher.Flush()
			return
		}

		if len(events) > 0 {
			idle = 0
			cursor = writeEventFrames(w, events)
			flusher.Flush()
		} else {
			idle++
			if idle >= streamIdlePolls {
				// Comment line keeps intermediaries from timing out the
				// connection while the job is quiet.
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
				idle = 0
			}
		}

		job, err := h.service.GetJob(r.Context(), identity, jobID)
		if err != nil {
			if log != nil {
				log.Error("event stream job lookup failed", "job_id", jobID, "error", err)
			}
			return
		}

		// The runner may append its final events between the ledger read
		// above and this snapshot. Once the status is terminal, re-read
		// the ledger until it is empty so nothing pending is dropped.
		if job.Status.Terminal() {
			for {
				events, err := h.service.ListEvents(r.Context(), identity, jobID, cursor, streamBatchLimit)
				if err != nil {
					if log != nil {
						log.Error("event stream final drain failed",
							"job_id", jobID,
							"cursor", cursor,
							"error", err)
					}
					fmt.Fprintf(w, "event: error\ndata: {\"message\":\"stream error\",\"request_id\":\"%s\"}\n\n", requestID)
					flusher.Flush()
					return
				}
				if len(events) == 0 {
					break
				}
				cursor = writeEventFrames(w, events)
				flusher.Flush()
			}
			if log != nil {
				log.Info("event stream completed",
					"job_id", jobID,
					"status", job.Status,
					"last_event_id", cursor)
			}
			return
		}

		select {
		case <-r.Context().Done():
			if log != nil {
				log.Debug("event stream client disconnected", "job_id", jobID)
			}
			return
		case <-ticker.C:
		}
	}
}

// writeEventFrames emits ledger events as SSE frames in ascending id order
// and returns the id of the last event written.
func writeEventFrames(w io.Writer, events []models.GenerationEvent) int64 {
	var last int64
	for _, ev := range events {
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Payload)
		last = ev.ID
	}
	return last
}

// resumeCursor derives the starting event cursor from the request. The
// Last-Event-ID header set by reconnecting EventSource clients and the
// after_id query parameter are both honored; the larger value wins.
func resumeCursor(r *http.Request) int64 {
	var cursor int64

	if v := r.URL.Query().Get("after_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > cursor {
			cursor = id
		}
	}

	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > cursor {
			cursor = id
		}
	}

	return cursor
}
