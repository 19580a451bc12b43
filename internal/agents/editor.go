package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// EditorInput drives Editor.Run (spec §4.3: "must preserve every existing
// step that is not referenced by the edit, and must preserve prompt values
// for unchanged steps").
type EditorInput struct {
	CurrentWorkflow workflow.Workflow
	EditRequest     string
	ToolSpecs       []ToolSpec
}

// EditorOutput carries the modified workflow.
type EditorOutput struct {
	Result
	Workflow workflow.Workflow `json:"workflow,omitempty"`
}

// Editor applies a targeted natural-language edit to an existing workflow.
type Editor struct {
	LLM llm.Client
}

func (e *Editor) Run(ctx context.Context, in EditorInput) EditorOutput {
	current, err := in.CurrentWorkflow.Marshal()
	if err != nil {
		return EditorOutput{Result: Result{Success: false, ErrorMessage: "editor: could not serialize current workflow: " + err.Error()}}
	}
	system := "You edit an existing clinical workflow in place. Preserve every step not " +
		"referenced by the edit request verbatim, including prompt fields on unchanged steps. " +
		"Return the complete modified workflow as JSON with a \"steps\" array."
	var sb strings.Builder
	sb.WriteString("Current workflow:\n")
	sb.Write(current)
	sb.WriteString("\n\nAvailable tools:\n")
	for _, t := range in.ToolSpecs {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", t.Name, t.Role, t.Description)
	}
	sb.WriteString("\nEdit request: " + in.EditRequest)

	var raw json.RawMessage
	_, err = llm.StructuredInto(ctx, e.LLM, llm.StructuredRequest{
		System:     system,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Schema:     generatorSchema,
		SchemaName: "workflow",
	}, &raw)
	if err != nil {
		return EditorOutput{Result: Result{Success: false, ErrorMessage: "editor: structured call failed: " + err.Error()}}
	}

	w, err := workflow.Parse(raw)
	if err != nil {
		return EditorOutput{Result: Result{Success: false, ErrorMessage: "editor: edited workflow did not parse: " + err.Error()}}
	}
	return EditorOutput{Result: Result{Success: true}, Workflow: w}
}
