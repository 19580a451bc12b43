package orchestrator

import "github.com/clinicflow/workflow-engine/internal/workflow"

// Action enumerates the decisions the orchestrator LLM may choose (spec
// §4.4).
type Action string

const (
	ActionCallClarifier     Action = "call_clarifier"
	ActionCallGenerator     Action = "call_generator"
	ActionCallEditor        Action = "call_editor"
	ActionCallChunkOperator Action = "call_chunk_operator"
	ActionCallValidator     Action = "call_validator"
	ActionCallPromptFiller  Action = "call_prompt_filler"
	ActionCallSummarizer    Action = "call_summarizer"
	ActionRespondToUser     Action = "respond_to_user"
)

// OrchestratorDecision is the structured result of the per-iteration LLM
// call driving the decision loop (spec §4.4 step 2b).
type OrchestratorDecision struct {
	Action          Action `json:"action"`
	AgentTask       string `json:"agent_task,omitempty"`
	ChunkOperation  string `json:"chunk_operation,omitempty"`
	ResponseText    string `json:"response_text,omitempty"`
	IncludeWorkflow bool   `json:"include_workflow,omitempty"`
}

// Event is the discriminated union streamed by ProcessMessageStreaming.
type Event interface{ eventKind() string }

// DecisionEvent reports one decision-loop iteration's chosen action.
type DecisionEvent struct {
	Iteration int                  `json:"iteration"`
	Decision  OrchestratorDecision `json:"decision"`
}

func (DecisionEvent) eventKind() string { return "decision" }

// AgentResultEvent reports one agent invocation's outcome.
type AgentResultEvent struct {
	Iteration  int    `json:"iteration"`
	Agent      string `json:"agent"`
	Success    bool   `json:"success"`
	Summary    string `json:"summary"`
	DurationMs int64  `json:"duration_ms"`
}

func (AgentResultEvent) eventKind() string { return "agent_result" }

// ResponseType enumerates the two shapes a turn's final response can take.
type ResponseType string

const (
	ResponseText     ResponseType = "text"
	ResponseWorkflow ResponseType = "workflow"
)

// FinalEvent is the terminal event of a turn, matching process_message's
// return shape (spec §4.4).
type FinalEvent struct {
	ResponseType      ResponseType       `json:"response_type"`
	Text              string             `json:"text"`
	Workflow          *workflow.Workflow `json:"workflow,omitempty"`
	Summary           string             `json:"summary,omitempty"`
	WorkflowID        string             `json:"workflow_id,omitempty"`
	TotalCostUSD      float64            `json:"total_cost_usd"`
	TotalInputTokens  int                `json:"total_input_tokens"`
	TotalOutputTokens int                `json:"total_output_tokens"`
}

func (FinalEvent) eventKind() string { return "final" }
