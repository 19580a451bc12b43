package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// ClarifierInput drives Clarifier.Run: the orchestrator reaches for this
// agent when a user request is too ambiguous to generate or edit a workflow
// from directly (spec §4.4.1's call_clarifier input row).
type ClarifierInput struct {
	UserRequest     string
	ToolSpecs       []ToolSpec
	CurrentWorkflow *workflow.Workflow
}

// ClarifierOutput carries the clarifying question to surface to the user.
type ClarifierOutput struct {
	Result
	Question string `json:"question,omitempty"`
}

var clarifierSchema = json.RawMessage(`{"type":"object","properties":{"question":{"type":"string"}},"required":["question"]}`)

// Clarifier asks the user a single clarifying question when their request
// does not yet carry enough information to plan a workflow.
type Clarifier struct {
	LLM llm.Client
}

func (c *Clarifier) Run(ctx context.Context, in ClarifierInput) ClarifierOutput {
	system := "The user's clinical analysis request is ambiguous. Ask exactly one concise " +
		"clarifying question that would let a planner produce a workflow."
	var sb strings.Builder
	sb.WriteString("Request: " + in.UserRequest)
	if in.CurrentWorkflow != nil {
		sb.WriteString("\n\nA workflow already exists for this conversation.")
	}
	if len(in.ToolSpecs) > 0 {
		sb.WriteString(fmt.Sprintf("\n\n%d tools are available for analysis.", len(in.ToolSpecs)))
	}

	var out struct {
		Question string `json:"question"`
	}
	_, err := llm.StructuredInto(ctx, c.LLM, llm.StructuredRequest{
		System:     system,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Schema:     clarifierSchema,
		SchemaName: "clarifier",
	}, &out)
	if err != nil {
		return ClarifierOutput{Result: Result{Success: false, ErrorMessage: "clarifier: structured call failed: " + err.Error()}}
	}
	return ClarifierOutput{Result: Result{Success: true}, Question: out.Question}
}
