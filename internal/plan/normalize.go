package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// looseTerm matches the shapes the generation step is known to emit: either
// a "term" or a "label" field for the term name.
type looseTerm struct {
	Term    string            `json:"term"`
	Label   string            `json:"label"`
	Courses []json.RawMessage `json:"courses"`
}

// Normalize converts raw generator output into the canonical Plan shape.
// The generation step emits one of three envelopes: {"plan": [...]},
// {"terms": [...]}, or a bare term array. Course objects are loose maps with
// several possible code and credit spellings.
func Normalize(raw json.RawMessage) (Plan, error) {
	if len(raw) == 0 {
		return Plan{}, fmt.Errorf("empty generator output")
	}

	var envelope struct {
		Plan  []json.RawMessage `json:"plan"`
		Terms []json.RawMessage `json:"terms"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if terms := normalizeTerms(envelope.Plan); len(terms) > 0 {
			return Plan{Terms: terms}, nil
		}
		if terms := normalizeTerms(envelope.Terms); len(terms) > 0 {
			return Plan{Terms: terms}, nil
		}
	}

	var bare []json.RawMessage
	if err := json.Unmarshal(raw, &bare); err == nil {
		if terms := normalizeTerms(bare); len(terms) > 0 {
			return Plan{Terms: terms}, nil
		}
	}

	return Plan{}, fmt.Errorf("unable to normalize generator output into a plan")
}

func normalizeTerms(rawTerms []json.RawMessage) []Term {
	var terms []Term
	for _, rawTerm := range rawTerms {
		var t looseTerm
		if err := json.Unmarshal(rawTerm, &t); err != nil {
			continue
		}
		label := strings.TrimSpace(t.Term)
		if label == "" {
			label = strings.TrimSpace(t.Label)
		}
		if label == "" {
			continue
		}

		term := Term{Term: label, Courses: make([]Course, 0, len(t.Courses))}
		for _, rawCourse := range t.Courses {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(rawCourse, &fields); err != nil {
				continue
			}
			course, ok := normalizeCourse(fields)
			if !ok {
				continue
			}
			term.Courses = append(term.Courses, course)
		}
		terms = append(terms, term)
	}
	return terms
}

func normalizeCourse(fields map[string]json.RawMessage) (Course, bool) {
	code := ""
	for _, key := range []string{"code", "courseCode", "course_code"} {
		if raw, ok := fields[key]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil {
				code = NormalizeCourseCode(s)
				if code != "" {
					break
				}
			}
		}
	}
	if code == "" {
		return Course{}, false
	}

	return Course{
		Code:       code,
		Credits:    parseCredits(fields["credits"]),
		Historical: isHistoricalCourse(fields),
		Retake:     isRetakeCourse(fields),
	}, true
}

// parseCredits accepts JSON numbers and numeric strings; anything else is 0.
func parseCredits(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

// isHistoricalCourse recognizes transcript rows echoed back into the plan:
// completed or in-progress status, an isCompleted flag, or an institutional/
// transcript source marker.
func isHistoricalCourse(fields map[string]json.RawMessage) bool {
	if boolField(fields, "isCompleted") {
		return true
	}
	status := strings.ToLower(stringField(fields, "status"))
	if strings.Contains(status, "completed") ||
		strings.Contains(status, "in-progress") ||
		strings.Contains(status, "in progress") {
		return true
	}
	source := strings.ToLower(stringField(fields, "source"))
	return strings.Contains(source, "institutional") || strings.Contains(source, "transcript")
}

// isRetakeCourse recognizes explicitly flagged retakes, the only duplicate
// of a completed course a plan is allowed to carry.
func isRetakeCourse(fields map[string]json.RawMessage) bool {
	if boolField(fields, "retake") || boolField(fields, "isRetake") {
		return true
	}
	notes := strings.ToLower(stringField(fields, "notes"))
	reason := strings.ToLower(stringField(fields, "reason"))
	return strings.Contains(notes, "retake") || strings.Contains(reason, "retake")
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func boolField(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) != nil {
		return false
	}
	return b
}
