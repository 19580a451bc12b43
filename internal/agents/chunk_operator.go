package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// ChunkOperation enumerates the structural edits ChunkOperator performs
// (spec §4.3).
type ChunkOperation string

const (
	ChunkInsert ChunkOperation = "insert"
	ChunkAppend ChunkOperation = "append"
	ChunkRemove ChunkOperation = "remove"
)

// ChunkOperatorInput drives ChunkOperator.Run.
type ChunkOperatorInput struct {
	CurrentWorkflow workflow.Workflow
	Operation       ChunkOperation
	Description     string
	ToolSpecs       []ToolSpec
}

// ChunkOperatorOutput carries the modified workflow.
type ChunkOperatorOutput struct {
	Result
	Workflow workflow.Workflow `json:"workflow,omitempty"`
}

// ChunkOperator performs a single structural edit (insert/append/remove a
// chunk of steps) rather than a free-form edit. New ToolStep.Inputs with a
// "prompt" key are left null for PromptFiller to populate (spec §4.3: "new
// tool steps with prompt fields get null").
type ChunkOperator struct {
	LLM llm.Client
}

func (c *ChunkOperator) Run(ctx context.Context, in ChunkOperatorInput) ChunkOperatorOutput {
	if in.Operation != ChunkInsert && in.Operation != ChunkAppend && in.Operation != ChunkRemove {
		return ChunkOperatorOutput{Result: Result{Success: false, ErrorMessage: "chunk_operator: unknown operation " + string(in.Operation)}}
	}
	current, err := in.CurrentWorkflow.Marshal()
	if err != nil {
		return ChunkOperatorOutput{Result: Result{Success: false, ErrorMessage: "chunk_operator: could not serialize current workflow: " + err.Error()}}
	}
	system := fmt.Sprintf(
		"You perform a single structural %q operation on a clinical workflow's step list. "+
			"For insert/append, set any new ToolStep's \"prompt\" input to null so it can be filled "+
			"later. For remove, update downstream variable references that depended on the removed "+
			"step, or leave them intact if still valid. Return the complete modified workflow as JSON.",
		in.Operation)
	var sb strings.Builder
	sb.WriteString("Current workflow:\n")
	sb.Write(current)
	sb.WriteString("\n\nAvailable tools:\n")
	for _, t := range in.ToolSpecs {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", t.Name, t.Role, t.Description)
	}
	sb.WriteString("\nDescription: " + in.Description)

	var raw json.RawMessage
	_, err = llm.StructuredInto(ctx, c.LLM, llm.StructuredRequest{
		System:     system,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Schema:     generatorSchema,
		SchemaName: "workflow",
	}, &raw)
	if err != nil {
		return ChunkOperatorOutput{Result: Result{Success: false, ErrorMessage: "chunk_operator: structured call failed: " + err.Error()}}
	}

	w, err := workflow.Parse(raw)
	if err != nil {
		return ChunkOperatorOutput{Result: Result{Success: false, ErrorMessage: "chunk_operator: modified workflow did not parse: " + err.Error()}}
	}
	return ChunkOperatorOutput{Result: Result{Success: true}, Workflow: w}
}
