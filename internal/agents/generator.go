package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// GeneratorInput drives Generator.Run: a natural-language description of the
// desired analysis and the tools it may plan against.
type GeneratorInput struct {
	UserIntent     string
	ToolSpecs      []ToolSpec
	PatientContext PatientContext
}

// GeneratorOutput carries the generated workflow, or a failure result.
type GeneratorOutput struct {
	Result
	Workflow workflow.Workflow `json:"workflow,omitempty"`
}

// Generator turns a natural-language intent into a first-draft Workflow via
// a single structured LLM call (spec §4.3 Agent Set).
type Generator struct {
	LLM llm.Client
}

var generatorSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"steps": {"type": "array"},
		"output_definitions": {"type": "array"},
		"output_mappings": {"type": "array"}
	},
	"required": ["steps"]
}`)

// Run asks the model to draft a workflow for intent, grounding its choice of
// tools in toolSpecs so it never references a tool the catalog does not have.
func (g *Generator) Run(ctx context.Context, in GeneratorInput) GeneratorOutput {
	system := "You are a clinical workflow planner. Given a natural-language analysis request " +
		"and the available tools, produce a JSON workflow object with a \"steps\" array. " +
		"Only use tools from the provided catalog. Prefer get_patient_notes_ids + a LoopStep " +
		"over read_patient_note/analyze_note_with_span_and_reason for per-note analysis. " +
		"Leave every tool input named \"prompt\" set to null; prompts are filled in a later pass."
	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, t := range in.ToolSpecs {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", t.Name, t.Role, t.Description)
	}
	if in.PatientContext.MRN != "" {
		fmt.Fprintf(&sb, "\nPatient context: mrn=%s csn=%s\n", in.PatientContext.MRN, in.PatientContext.CSN)
	}
	sb.WriteString("\nRequest: " + in.UserIntent)

	var raw json.RawMessage
	_, err := llm.StructuredInto(ctx, g.LLM, llm.StructuredRequest{
		System:     system,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Schema:     generatorSchema,
		SchemaName: "workflow",
	}, &raw)
	if err != nil {
		return GeneratorOutput{Result: Result{Success: false, ErrorMessage: "generator: structured call failed: " + err.Error()}}
	}

	w, err := workflow.Parse(raw)
	if err != nil {
		return GeneratorOutput{Result: Result{Success: false, ErrorMessage: "generator: workflow did not parse: " + err.Error()}}
	}
	return GeneratorOutput{Result: Result{Success: true}, Workflow: w}
}
