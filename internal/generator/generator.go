// Package generator abstracts the AI plan-generation collaborator. The job
// runner treats it as opaque: any non-error result is a candidate plan.
package generator

import (
	"context"
	"encoding/json"

	"github.com/advisehq/plan-gateway/internal/plan"
	"github.com/advisehq/plan-gateway/internal/validation"
)

// Request is one normalized generation attempt
type Request struct {
	// RawPayload is the planning payload exactly as the caller submitted it,
	// serialized for the model
	RawPayload json.RawMessage

	// Payload is the parsed form of RawPayload
	Payload plan.Payload

	// Draft is the previous candidate plan when this attempt is a repair pass
	Draft *plan.Plan

	// RepairPhases scopes a repair attempt to specific plan content
	RepairPhases []validation.RepairPhase

	// Attempt is 1 for the initial attempt and increments per repair cycle
	Attempt int
}

// Generator produces a candidate plan for a request
type Generator interface {
	Generate(ctx context.Context, req Request) (plan.Plan, error)
}

// Func adapts a plain function to the Generator interface
type Func func(ctx context.Context, req Request) (plan.Plan, error)

func (f Func) Generate(ctx context.Context, req Request) (plan.Plan, error) {
	return f(ctx, req)
}
