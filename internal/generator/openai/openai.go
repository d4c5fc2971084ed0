// Package openai implements the generation collaborator on the OpenAI chat
// completions API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/advisehq/plan-gateway/internal/generator"
	"github.com/advisehq/plan-gateway/internal/plan"
	"github.com/advisehq/plan-gateway/pkg/logger"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You are an academic advisor AI. Using ONLY the input data ` +
	`(programs, generalEducation, takenCourses, suggestedDistribution), produce a ` +
	`term-by-term graduation plan.

RULES
- Return ONLY JSON of the form {"plan":[{"term":"Fall 2026","courses":[{"code":"CS 101","credits":3}]}]} with no extra text.
- Output terms in chronological order, matching the order and count of suggestedDistribution.
- A taken course with status Completed and a passing grade MUST NOT be scheduled again.
- No course code may appear in more than one term.
- Every selectedCourses code of every requirement must appear in the plan unless already completed.
- Keep each term's total credits within the suggestedDistribution min/max for that term.`

// Config contains OpenAI connection settings
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// Generator calls the OpenAI chat completions API and normalizes the reply
// into a candidate plan.
type Generator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *logger.Logger
}

// New creates an OpenAI-backed generator
func New(cfg Config, log *logger.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Generator{
		client:    openai.NewClient(cfg.APIKey),
		model:     model,
		maxTokens: cfg.MaxTokens,
		logger:    log,
	}, nil
}

// Generate implements generator.Generator
func (g *Generator) Generate(ctx context.Context, req generator.Request) (plan.Plan, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return plan.Plan{}, err
	}

	g.logger.Debug("generator: calling openai",
		"model", g.model,
		"attempt", req.Attempt,
		"repair_phases", len(req.RepairPhases))

	chatReq := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if g.maxTokens > 0 {
		chatReq.MaxCompletionTokens = g.maxTokens
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return plan.Plan{}, fmt.Errorf("openai returned no choices")
	}

	content := stripCodeFences(resp.Choices[0].Message.Content)
	candidate, err := plan.Normalize(json.RawMessage(content))
	if err != nil {
		return plan.Plan{}, fmt.Errorf("normalize openai output: %w", err)
	}

	g.logger.Debug("generator: candidate plan received",
		"model", g.model,
		"terms", len(candidate.Terms))

	return candidate, nil
}

// buildPrompt serializes the request for the model. Repair attempts carry the
// previous draft and the phases the model should limit itself to.
func buildPrompt(req generator.Request) (string, error) {
	var b strings.Builder

	if len(req.RepairPhases) > 0 {
		phases := make([]string, 0, len(req.RepairPhases))
		for _, phase := range req.RepairPhases {
			phases = append(phases, string(phase))
		}
		fmt.Fprintf(&b, "REPAIR PASS (attempt %d). Only adjust content covered by these phases: %s. Keep every other course placement from the draft plan fixed.\n\n",
			req.Attempt, strings.Join(phases, ", "))
	}

	if req.Draft != nil {
		draftJSON, err := json.Marshal(req.Draft)
		if err != nil {
			return "", fmt.Errorf("marshal draft plan: %w", err)
		}
		fmt.Fprintf(&b, "DRAFT PLAN:\n%s\n\n", draftJSON)
	}

	input := req.RawPayload
	if len(input) == 0 {
		serialized, err := json.Marshal(req.Payload)
		if err != nil {
			return "", fmt.Errorf("marshal planning payload: %w", err)
		}
		input = serialized
	}
	fmt.Fprintf(&b, "INPUT:\n%s\n", input)

	return b.String(), nil
}

// stripCodeFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
