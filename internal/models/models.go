package models

import (
	"encoding/json"
	"time"
)

// GenerationJob tracks one asynchronous plan-generation task
type GenerationJob struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	RequestRef    string          `json:"request_ref,omitempty"`
	Status        JobStatus       `json:"status"`
	Attempt       int             `json:"attempt"`
	ResultPlanRef string          `json:"result_plan_ref,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	InputPayload  json.RawMessage `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// JobStatus represents the state of a generation job
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusRunning     JobStatus = "running"
	StatusNeedsRepair JobStatus = "needs_repair"
	StatusSucceeded   JobStatus = "succeeded"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions is the full transition graph. Anything not listed is rejected.
var legalTransitions = map[JobStatus][]JobStatus{
	StatusQueued:      {StatusRunning, StatusCancelled},
	StatusRunning:     {StatusSucceeded, StatusNeedsRepair, StatusFailed, StatusCancelled},
	StatusNeedsRepair: {StatusRunning, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to JobStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GenerationEvent is one append-only ledger entry for a job
type GenerationEvent struct {
	ID        int64           `json:"id"`
	JobID     string          `json:"job_id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventType represents the type of a generation event
type EventType string

const (
	EventTypeStatusChanged   EventType = "status_changed"
	EventTypeProgress        EventType = "progress"
	EventTypeValidationIssue EventType = "validation_issue"
	EventTypeRepairRequested EventType = "repair_requested"
	EventTypeError           EventType = "error"
)

// StatusChangedPayload is the payload of a status_changed event
type StatusChangedPayload struct {
	From JobStatus `json:"from"`
	To   JobStatus `json:"to"`
}

// ProgressPayload is the payload of a progress event
type ProgressPayload struct {
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// RepairRequestedPayload carries the repair phases the next attempt should focus on
type RepairRequestedPayload struct {
	Attempt int      `json:"attempt"`
	Phases  []string `json:"phases"`
}

// ErrorPayload is the payload of an error event
type ErrorPayload struct {
	Message string `json:"message"`
}
