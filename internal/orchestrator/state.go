// Package orchestrator implements the Orchestrator (component G): a
// decision loop that drives the Agent Set by consulting an LLM for the next
// action, maintains turn-scoped AgentState, and streams trace events.
package orchestrator

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// ConversationTurn is one entry in AgentState.Conversation.
type ConversationTurn struct {
	Role        string  `json:"role"`
	Content     string  `json:"content"`
	WorkflowRef *string `json:"workflow_ref,omitempty"`
}

// AgentCallLogEntry is a per-turn observation of one agent invocation,
// kept concise so it is cheap to fold into the next LLM decision context
// (spec §3: "agent, success, short summary").
type AgentCallLogEntry struct {
	Agent   string `json:"agent"`
	Success bool   `json:"success"`
	Summary string `json:"summary"`
}

// AgentState is the per-conversation, mutable state the orchestrator reads
// and updates across turns (spec §3). ConversationID keys the on-disk
// conversation directory (conversations/<conversation_id>/) the FS store
// persists a conversation under.
type AgentState struct {
	ConversationID    string
	Conversation      []ConversationTurn
	WorkflowHistory   map[string]workflow.Workflow
	CurrentWorkflowID string
	PendingWorkflow   *workflow.Workflow
	PendingSummary    *string
	LastAgent         string
	LastAgentResult   any
	AgentCallLog      []AgentCallLogEntry
	MRN               string
	CSN               string

	totalCostUSD      float64
	totalInputTokens  int
	totalOutputTokens int
}

// NewConversationID returns a globally unique conversation identifier,
// prefixed with the owning patient's MRN for readability in logs and on
// disk (spec §6.2 keys conversations/<conversation_id>/ directly off this
// id).
func NewConversationID(mrn string) string {
	return mrn + "-" + uuid.NewString()
}

// NewAgentState creates the state seeded on the first user message of a
// conversation, minting the conversation id its persistence is keyed by
// (spec §3 Lifecycle).
func NewAgentState(mrn, csn string) *AgentState {
	return &AgentState{
		ConversationID:  NewConversationID(mrn),
		WorkflowHistory: make(map[string]workflow.Workflow),
		MRN:             mrn,
		CSN:             csn,
	}
}

// commitPendingWorkflow assigns a fresh workflow_v{N+1} id to the pending
// workflow, stores it, and clears the turn's pending slots (spec §4.4 step
// 2d).
func (s *AgentState) commitPendingWorkflow() string {
	id := nextWorkflowVersionID(s.WorkflowHistory)
	s.WorkflowHistory[id] = *s.PendingWorkflow
	s.CurrentWorkflowID = id
	s.PendingWorkflow = nil
	s.PendingSummary = nil
	return id
}

func nextWorkflowVersionID(history map[string]workflow.Workflow) string {
	n := len(history) + 1
	for {
		id := versionID(n)
		if _, exists := history[id]; !exists {
			return id
		}
		n++
	}
}

func versionID(n int) string {
	return "workflow_v" + strconv.Itoa(n)
}

// CurrentWorkflow returns the committed workflow at CurrentWorkflowID, if any.
func (s *AgentState) CurrentWorkflow() (workflow.Workflow, bool) {
	if s.CurrentWorkflowID == "" {
		return workflow.Workflow{}, false
	}
	w, ok := s.WorkflowHistory[s.CurrentWorkflowID]
	return w, ok
}

// Totals returns the running cost/token totals accumulated across every
// agent call this state has observed.
func (s *AgentState) Totals() (costUSD float64, inputTokens, outputTokens int) {
	return s.totalCostUSD, s.totalInputTokens, s.totalOutputTokens
}

func (s *AgentState) addCost(costUSD float64, inputTokens, outputTokens int) {
	s.totalCostUSD += costUSD
	s.totalInputTokens += inputTokens
	s.totalOutputTokens += outputTokens
}
