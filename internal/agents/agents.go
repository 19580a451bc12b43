// Package agents implements the Agent Set (component F): eight stateless
// agents the orchestrator drives (the seven core agents plus the Clarifier),
// each with a typed input/output contract.
// Agents never panic or return a bare error for a recoverable failure; they
// report success=false with a message so the orchestrator's decision loop
// can see the failure and choose to recover (spec §4.3/§4.4).
package agents

// Result is embedded in every agent's Output, carrying the uniform
// success/error contract spec §4.3 requires of each agent.
type Result struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// PatientContext identifies the encounter a generated workflow will run
// against (spec §4.4.1: the generator's input carries patient_context).
type PatientContext struct {
	MRN string `json:"mrn"`
	CSN string `json:"csn"`
}

// ToolSpec is the planning-facing projection of a catalog.ToolInfo: agents
// depend on this package, not internal/catalog, to avoid a dependency cycle
// (the catalog's compute tools are built against internal/llm, which agents
// also use directly for their own structured calls).
type ToolSpec struct {
	Name         string `json:"name"`
	Role         string `json:"role"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	InputSchema  string `json:"input_schema,omitempty"`
	OutputSchema string `json:"output_schema,omitempty"`
	UsesLLM      bool   `json:"uses_llm"`
}
