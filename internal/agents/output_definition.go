package agents

import (
	"context"
	"encoding/json"

	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// OutputDefinitionInput drives OutputDefinitionAgent.Run.
type OutputDefinitionInput struct {
	Workflow   workflow.Workflow
	UserIntent string
}

// OutputDefinitionOutput carries the workflow with output_definitions and
// output_mappings populated.
type OutputDefinitionOutput struct {
	Result
	Workflow     workflow.Workflow `json:"workflow,omitempty"`
	CostUSD      float64           `json:"cost_usd"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
}

var outputDefinitionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"output_definitions": {"type": "array"},
		"output_mappings": {"type": "array"}
	},
	"required": ["output_definitions", "output_mappings"]
}`)

// OutputDefinitionAgent populates output_definitions/output_mappings for a
// workflow (spec §4.3: "optional, currently light"). When this agent is not
// invoked, the executor/orchestrator auto-derives definitions from
// compute-role steps instead (spec §4 step 7).
type OutputDefinitionAgent struct {
	LLM llm.Client
}

func (a *OutputDefinitionAgent) Run(ctx context.Context, in OutputDefinitionInput) OutputDefinitionOutput {
	raw, err := in.Workflow.Marshal()
	if err != nil {
		return OutputDefinitionOutput{Result: Result{Success: false, ErrorMessage: "output_definition: could not serialize workflow: " + err.Error()}}
	}
	system := "Given a clinical workflow and the user's intent, produce output_definitions " +
		"(one per result the user cares about) and output_mappings binding step-produced " +
		"variables onto those definitions by id."
	var decoded struct {
		OutputDefinitions []workflow.OutputDefinition `json:"output_definitions"`
		OutputMappings    []workflow.OutputMapping    `json:"output_mappings"`
	}
	meta, err := llm.StructuredInto(ctx, a.LLM, llm.StructuredRequest{
		System:     system,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "Workflow:\n" + string(raw) + "\n\nIntent: " + in.UserIntent}},
		Schema:     outputDefinitionSchema,
		SchemaName: "output_definitions",
	}, &decoded)
	if err != nil {
		return OutputDefinitionOutput{Result: Result{Success: false, ErrorMessage: "output_definition: structured call failed: " + err.Error()}}
	}
	out := in.Workflow
	out.OutputDefinitions = decoded.OutputDefinitions
	out.OutputMappings = decoded.OutputMappings
	return OutputDefinitionOutput{
		Result:       Result{Success: true},
		Workflow:     out,
		CostUSD:      meta.CostUSD,
		InputTokens:  meta.Usage.InputTokens,
		OutputTokens: meta.Usage.OutputTokens,
	}
}
