package workflow

import (
	"encoding/json"
	"fmt"
)

type (
	// OutputDefinition declares one typed result the workflow yields (spec §3).
	OutputDefinition struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Label    string `json:"label"`
		ToolName string `json:"tool_name,omitempty"`
		Field    string `json:"field,omitempty"`
	}

	// OutputMapping binds a step-produced variable to an OutputDefinition's
	// field, by id.
	OutputMapping struct {
		OutputDefinitionID string `json:"output_definition_id"`
		SourceVariable     string `json:"source_variable"`
		ResourceIDVariable string `json:"resource_id_variable,omitempty"`
	}

	// Workflow is the top-level, JSON-serializable step tree (spec §3). Field
	// names are preserved round-trip, including LoopStep's aliased for/in
	// keys, so agents that mutate a workflow never rewrite unrelated steps.
	Workflow struct {
		Steps             StepList           `json:"steps"`
		OutputDefinitions []OutputDefinition `json:"output_definitions,omitempty"`
		OutputMappings    []OutputMapping    `json:"output_mappings,omitempty"`
	}
)

// Parse decodes a workflow from its JSON wire form.
func Parse(data []byte) (Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return Workflow{}, fmt.Errorf("workflow: parse: %w", err)
	}
	return w, nil
}

// Marshal encodes a workflow to its JSON wire form.
func (w Workflow) Marshal() ([]byte, error) {
	return json.MarshalIndent(w, "", "  ")
}

// Walk visits every step in the workflow, including nested LoopStep bodies
// and IfStep then/otherwise branches, depth-first.
func (w Workflow) Walk(visit func(Step)) {
	walkSteps(w.Steps, visit)
}

func walkSteps(steps []Step, visit func(Step)) {
	for _, s := range steps {
		visit(s)
		switch v := s.(type) {
		case LoopStep:
			walkSteps(v.Body, visit)
		case IfStep:
			walkSteps(v.Then, visit)
			walkSteps(v.Otherwise, visit)
		}
	}
}

// AllIDs returns every step id in the workflow, in walk order, without
// deduplication (used by validators that need to detect duplicates).
func (w Workflow) AllIDs() []string {
	var ids []string
	w.Walk(func(s Step) { ids = append(ids, s.StepID()) })
	return ids
}

// ToolSteps returns every ToolStep in the workflow, nested or not.
func (w Workflow) ToolSteps() []ToolStep {
	var out []ToolStep
	w.Walk(func(s Step) {
		if ts, ok := s.(ToolStep); ok {
			out = append(out, ts)
		}
	})
	return out
}
