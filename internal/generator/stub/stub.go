// Package stub provides a deterministic plan generator for local
// development and tests. It schedules outstanding requirement courses
// straight into the suggested term distribution without calling any
// external model.
package stub

import (
	"context"
	"fmt"

	"github.com/advisehq/plan-gateway/internal/generator"
	"github.com/advisehq/plan-gateway/internal/plan"
)

const defaultCourseCredits = 3

// Generator fills term envelopes with unmet requirement courses in
// payload order. The same request always yields the same plan.
type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Generate(ctx context.Context, req generator.Request) (plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return plan.Plan{}, err
	}

	taken := make(map[string]bool, len(req.Payload.TakenCourses))
	for _, tc := range req.Payload.TakenCourses {
		if code := plan.NormalizeCourseCode(tc.Code); code != "" {
			taken[code] = true
		}
	}

	// Outstanding courses in payload order: program requirements first,
	// general education after.
	var pending []string
	seen := make(map[string]bool)
	addCourses := func(reqs []plan.Requirement) {
		for _, r := range reqs {
			for _, ref := range r.SelectedCourses {
				code := plan.NormalizeCourseCode(ref.Code)
				if code == "" || taken[code] || seen[code] {
					continue
				}
				seen[code] = true
				pending = append(pending, code)
			}
		}
	}
	for _, prog := range req.Payload.Programs {
		addCourses(prog.Requirements)
	}
	addCourses(req.Payload.GeneralEducation)

	if len(req.Payload.SuggestedDistribution) == 0 {
		return plan.Plan{}, fmt.Errorf("payload has no suggested term distribution")
	}

	var out plan.Plan
	next := 0
	for _, env := range req.Payload.SuggestedDistribution {
		term := plan.Term{Term: termLabel(env)}

		credits := 0.0
		target := float64(env.MinCredits)
		if target <= 0 {
			target = float64(env.MaxCredits)
		}
		for next < len(pending) && credits < target {
			if float64(env.MaxCredits) > 0 && credits+defaultCourseCredits > float64(env.MaxCredits) {
				break
			}
			term.Courses = append(term.Courses, plan.Course{
				Code:    pending[next],
				Credits: defaultCourseCredits,
			})
			credits += defaultCourseCredits
			next++
		}

		out.Terms = append(out.Terms, term)
	}

	return out, nil
}

func termLabel(env plan.TermEnvelope) string {
	if env.Year > 0 {
		return fmt.Sprintf("%s %d", env.Term, env.Year)
	}
	return env.Term
}
