// Package validation implements the deterministic plan validation engine.
// It is pure: same payload and plan always produce the same result, no I/O,
// no state, and no panics on malformed input.
package validation

import (
	"fmt"
	"strings"

	"github.com/advisehq/plan-gateway/internal/plan"
)

// IssueCode identifies the rule a plan violated
type IssueCode string

const (
	CodeDuplicateCourse          IssueCode = "duplicate_course"
	CodeCompletedCourseReplanned IssueCode = "completed_course_replanned"
	CodeMissingRequirement       IssueCode = "missing_requirement"
	CodeCreditEnvelopeViolation  IssueCode = "credit_envelope_violation"
)

// Severity of an issue. Every current rule is blocking; advisory is reserved
// for soft warnings and never affects Result.Valid.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// RepairPhase is a hint for the next generation attempt
type RepairPhase string

const (
	PhaseMajorFill    RepairPhase = "major_fill"
	PhaseMinorFill    RepairPhase = "minor_fill"
	PhaseGenEdFill    RepairPhase = "gen_ed_fill"
	PhaseElectiveFill RepairPhase = "elective_fill"
)

// phaseOrder is the fixed priority order for suggested repair phases.
var phaseOrder = []RepairPhase{PhaseMajorFill, PhaseMinorFill, PhaseGenEdFill, PhaseElectiveFill}

// Issue is one violation found in a candidate plan
type Issue struct {
	Code     IssueCode `json:"code"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Details  any       `json:"details,omitempty"`
}

// DuplicateCourseDetails reports a course scheduled in more than one term
type DuplicateCourseDetails struct {
	CourseCode string   `json:"courseCode"`
	Terms      []string `json:"terms"`
	Count      int      `json:"count"`
}

// ReplannedCourseDetails reports an already-completed course scheduled again
type ReplannedCourseDetails struct {
	CourseCode string `json:"courseCode"`
	Term       string `json:"term"`
}

// MissingRequirementDetails reports a requirement not fully covered
type MissingRequirementDetails struct {
	RequirementID        string   `json:"requirementId"`
	MissingCourseCodes   []string `json:"missingCourseCodes"`
	CandidateCourseCodes []string `json:"candidateCourseCodes"`
}

// EnvelopeViolationDetails reports a term outside its credit envelope
type EnvelopeViolationDetails struct {
	Term           string  `json:"term"`
	CreditsPlanned float64 `json:"creditsPlanned"`
	MinCredits     float64 `json:"minCredits"`
	MaxCredits     float64 `json:"maxCredits"`
}

// Result is the full outcome of one validation run
type Result struct {
	Valid                 bool          `json:"valid"`
	Issues                []Issue       `json:"issues"`
	SuggestedRepairPhases []RepairPhase `json:"suggestedRepairPhases"`
}

// requirementScope identifies where a requirement came from, which decides
// the repair phase a miss maps to.
type requirementScope struct {
	requirement plan.Requirement
	phase       RepairPhase
}

// Validate checks a candidate plan against the planning payload and returns
// every violation found across all passes, never short-circuiting.
func Validate(payload plan.Payload, finalPlan plan.Plan) Result {
	issues := make([]Issue, 0)
	phases := make(map[RepairPhase]bool)

	completed := completedTranscriptCourses(payload)
	planned := plannedCourseCodes(finalPlan)

	issues = appendDuplicateIssues(issues, phases, finalPlan)
	issues = appendReplannedIssues(issues, finalPlan, completed)
	issues = appendRequirementIssues(issues, phases, payload, planned, completed)
	issues = appendEnvelopeIssues(issues, phases, payload, finalPlan)

	valid := true
	for _, issue := range issues {
		if issue.Severity == SeverityBlocking {
			valid = false
			break
		}
	}

	return Result{
		Valid:                 valid,
		Issues:                issues,
		SuggestedRepairPhases: sortPhases(phases),
	}
}

// appendDuplicateIssues flags course codes scheduled in more than one term.
// Codes are reported in first-encounter order.
func appendDuplicateIssues(issues []Issue, phases map[RepairPhase]bool, finalPlan plan.Plan) []Issue {
	termsByCode := make(map[string][]string)
	order := make([]string, 0)

	for _, term := range finalPlan.Terms {
		for _, course := range term.Courses {
			if course.Code == "" || course.Historical {
				continue
			}
			if _, seen := termsByCode[course.Code]; !seen {
				order = append(order, course.Code)
			}
			termsByCode[course.Code] = append(termsByCode[course.Code], term.Term)
		}
	}

	for _, code := range order {
		terms := termsByCode[code]
		if len(terms) <= 1 {
			continue
		}
		issues = append(issues, Issue{
			Code:     CodeDuplicateCourse,
			Severity: SeverityBlocking,
			Message:  fmt.Sprintf("course %s appears in %d planned terms", code, len(terms)),
			Details: DuplicateCourseDetails{
				CourseCode: code,
				Terms:      terms,
				Count:      len(terms),
			},
		})
		phases[PhaseElectiveFill] = true
	}
	return issues
}

// appendReplannedIssues flags completed transcript courses scheduled again.
// Explicit retakes are the one allowed duplicate of a completed course.
// No repair phase maps to this code; the orchestrator decides how to react.
func appendReplannedIssues(issues []Issue, finalPlan plan.Plan, completed map[string]bool) []Issue {
	for _, term := range finalPlan.Terms {
		for _, course := range term.Courses {
			if course.Code == "" || course.Historical || course.Retake {
				continue
			}
			if !completed[course.Code] {
				continue
			}
			issues = append(issues, Issue{
				Code:     CodeCompletedCourseReplanned,
				Severity: SeverityBlocking,
				Message:  fmt.Sprintf("completed course %s was scheduled again in %s", course.Code, term.Term),
				Details: ReplannedCourseDetails{
					CourseCode: course.Code,
					Term:       term.Term,
				},
			})
		}
	}
	return issues
}

// appendRequirementIssues enforces all-or-nothing requirement coverage: a
// requirement is satisfied only if every selected course is planned or
// already completed.
func appendRequirementIssues(issues []Issue, phases map[RepairPhase]bool, payload plan.Payload, planned, completed map[string]bool) []Issue {
	for _, scope := range requirementScopes(payload) {
		codes := selectedCourseCodes(scope.requirement)
		if len(codes) == 0 {
			continue
		}
		missing := make([]string, 0)
		for _, code := range codes {
			if !planned[code] && !completed[code] {
				missing = append(missing, code)
			}
		}
		if len(missing) == 0 {
			continue
		}
		requirementID := scope.requirement.RequirementID
		if requirementID == "" {
			requirementID = "requirement"
		}
		issues = append(issues, Issue{
			Code:     CodeMissingRequirement,
			Severity: SeverityBlocking,
			Message:  fmt.Sprintf("requirement %s is not satisfied by completed or planned courses", requirementID),
			Details: MissingRequirementDetails{
				RequirementID:        requirementID,
				MissingCourseCodes:   missing,
				CandidateCourseCodes: codes,
			},
		})
		phases[scope.phase] = true
	}
	return issues
}

// appendEnvelopeIssues aligns plan terms to the suggested distribution by
// index and checks each term's credit total against its envelope. A term
// beyond the distribution gets a zero envelope so the mismatch is reported
// instead of silently ignored.
func appendEnvelopeIssues(issues []Issue, phases map[RepairPhase]bool, payload plan.Payload, finalPlan plan.Plan) []Issue {
	if len(payload.SuggestedDistribution) == 0 {
		return issues
	}

	for i, term := range finalPlan.Terms {
		var minCredits, maxCredits float64
		if i < len(payload.SuggestedDistribution) {
			envelope := payload.SuggestedDistribution[i]
			minCredits = float64(envelope.MinCredits)
			maxCredits = float64(envelope.MaxCredits)
		}

		total := 0.0
		for _, course := range term.Courses {
			total += course.Credits
		}

		inBounds := total > 0 && total >= minCredits && total <= maxCredits
		if i >= len(payload.SuggestedDistribution) {
			inBounds = false
		}
		if inBounds {
			continue
		}

		issues = append(issues, Issue{
			Code:     CodeCreditEnvelopeViolation,
			Severity: SeverityBlocking,
			Message:  fmt.Sprintf("%s has %g credits (expected %g-%g)", term.Term, total, minCredits, maxCredits),
			Details: EnvelopeViolationDetails{
				Term:           term.Term,
				CreditsPlanned: total,
				MinCredits:     minCredits,
				MaxCredits:     maxCredits,
			},
		})
		phases[PhaseElectiveFill] = true
	}
	return issues
}

// completedTranscriptCourses collects transcript codes that count as done: a
// completed status with a passing grade, or a passing grade with no status.
func completedTranscriptCourses(payload plan.Payload) map[string]bool {
	completed := make(map[string]bool)
	for _, taken := range payload.TakenCourses {
		code := plan.NormalizeCourseCode(taken.Code)
		if code == "" {
			continue
		}
		status := strings.ToLower(taken.Status)
		if strings.Contains(status, "completed") && isPassingGrade(taken.Grade) {
			completed[code] = true
			continue
		}
		if status == "" && isPassingGrade(taken.Grade) {
			// Some sources omit status but still carry a completed grade.
			completed[code] = true
		}
	}
	return completed
}

func plannedCourseCodes(finalPlan plan.Plan) map[string]bool {
	planned := make(map[string]bool)
	for _, term := range finalPlan.Terms {
		for _, course := range term.Courses {
			if course.Code == "" || course.Historical {
				continue
			}
			planned[course.Code] = true
		}
	}
	return planned
}

func requirementScopes(payload plan.Payload) []requirementScope {
	scopes := make([]requirementScope, 0)
	for _, program := range payload.Programs {
		phase := PhaseMajorFill
		if strings.EqualFold(program.ProgramType, "minor") {
			phase = PhaseMinorFill
		}
		for _, requirement := range program.Requirements {
			scopes = append(scopes, requirementScope{requirement: requirement, phase: phase})
		}
	}
	for _, requirement := range payload.GeneralEducation {
		scopes = append(scopes, requirementScope{requirement: requirement, phase: PhaseGenEdFill})
	}
	return scopes
}

// selectedCourseCodes returns the requirement's codes normalized, deduplicated,
// in declaration order.
func selectedCourseCodes(requirement plan.Requirement) []string {
	seen := make(map[string]bool)
	codes := make([]string, 0, len(requirement.SelectedCourses))
	for _, ref := range requirement.SelectedCourses {
		code := plan.NormalizeCourseCode(ref.Code)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

func isPassingGrade(grade string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(grade))
	if normalized == "" {
		return true
	}
	switch normalized {
	case "F", "E", "W", "I":
		return false
	}
	if strings.Contains(normalized, "WITHDRAW") || strings.Contains(normalized, "INCOMPLETE") {
		return false
	}
	return true
}

func sortPhases(phases map[RepairPhase]bool) []RepairPhase {
	sorted := make([]RepairPhase, 0, len(phases))
	for _, phase := range phaseOrder {
		if phases[phase] {
			sorted = append(sorted, phase)
		}
	}
	return sorted
}
