package agents

import (
	"context"
	"encoding/json"

	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// SummarizerInput drives Summarizer.Run.
type SummarizerInput struct {
	Workflow workflow.Workflow
}

// SummarizerOutput carries the plain-English summary.
type SummarizerOutput struct {
	Result
	Summary      string  `json:"summary,omitempty"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

var summarySchema = json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"]}`)

// Summarizer produces a 2-3 sentence plain-English description of a workflow
// via a single structured LLM call (spec §4.3).
type Summarizer struct {
	LLM llm.Client
}

func (s *Summarizer) Run(ctx context.Context, in SummarizerInput) SummarizerOutput {
	raw, err := in.Workflow.Marshal()
	if err != nil {
		return SummarizerOutput{Result: Result{Success: false, ErrorMessage: "summarizer: could not serialize workflow: " + err.Error()}}
	}
	var out struct {
		Summary string `json:"summary"`
	}
	meta, err := llm.StructuredInto(ctx, s.LLM, llm.StructuredRequest{
		System:     "Summarize the given clinical workflow in 2-3 plain-English sentences for a clinician reviewing it.",
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: string(raw)}},
		Schema:     summarySchema,
		SchemaName: "summary",
	}, &out)
	if err != nil {
		return SummarizerOutput{Result: Result{Success: false, ErrorMessage: "summarizer: structured call failed: " + err.Error()}}
	}
	return SummarizerOutput{
		Result:       Result{Success: true},
		Summary:      out.Summary,
		CostUSD:      meta.CostUSD,
		InputTokens:  meta.Usage.InputTokens,
		OutputTokens: meta.Usage.OutputTokens,
	}
}
