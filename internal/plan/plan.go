// Package plan holds the canonical planning types shared by the generator,
// the validation engine, and the API boundary. Loose AI output and request
// payloads are normalized into these shapes before anything else sees them.
package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Plan is a candidate multi-term schedule of courses
type Plan struct {
	Terms []Term `json:"plan"`
}

// Term is one planned term with its scheduled courses
type Term struct {
	Term    string   `json:"term"`
	Courses []Course `json:"courses"`
}

// Course is the canonical planned-course shape.
// Historical marks rows carried over from the transcript; Retake marks
// explicitly flagged retakes. Both are derived during normalization.
type Course struct {
	Code       string  `json:"code"`
	Credits    float64 `json:"credits"`
	Historical bool    `json:"historical,omitempty"`
	Retake     bool    `json:"retake,omitempty"`
}

// Payload is the planning request input: transcript, program requirements,
// general-education rules, and the per-term credit envelopes.
type Payload struct {
	TakenCourses          []TakenCourse  `json:"takenCourses"`
	Programs              []Program      `json:"programs"`
	GeneralEducation      []Requirement  `json:"generalEducation"`
	SuggestedDistribution []TermEnvelope `json:"suggestedDistribution"`
}

// TakenCourse is a completed or in-progress transcript row
type TakenCourse struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Grade  string `json:"grade,omitempty"`
}

// Program groups requirements under a program type (major, minor, ...)
type Program struct {
	ProgramType  string        `json:"programType"`
	Requirements []Requirement `json:"requirements"`
}

// Requirement defines a set of course codes that must all be satisfied
type Requirement struct {
	RequirementID   string      `json:"requirementId"`
	SelectedCourses []CourseRef `json:"selectedCourses"`
}

// CourseRef references a catalog course by code
type CourseRef struct {
	Code string `json:"code"`
}

// TermEnvelope is the permitted credit range for one planned term
type TermEnvelope struct {
	Term       string      `json:"term"`
	Year       int         `json:"year,omitempty"`
	MinCredits FlexCredits `json:"minCredits"`
	MaxCredits FlexCredits `json:"maxCredits"`
}

// FlexCredits accepts credit values as JSON numbers or numeric strings.
// Anything unparseable decodes to zero rather than failing the payload.
type FlexCredits float64

func (c *FlexCredits) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*c = FlexCredits(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			*c = 0
			return nil
		}
		*c = FlexCredits(parsed)
		return nil
	}
	*c = 0
	return nil
}

// ParsePayload decodes a planning request payload into its canonical shape.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if len(raw) == 0 {
		return p, fmt.Errorf("empty planning payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse planning payload: %w", err)
	}
	return p, nil
}

// NormalizeCourseCode canonicalizes a course code for comparison.
// Returns "" for anything unusable.
func NormalizeCourseCode(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
