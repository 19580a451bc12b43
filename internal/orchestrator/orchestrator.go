package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clinicflow/workflow-engine/internal/agents"
	"github.com/clinicflow/workflow-engine/internal/catalog"
	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/trace"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// MaxIterations bounds a single ProcessMessageStreaming call: after this many
// decisions without a respond_to_user action, the turn ends in failure
// (spec §4.4 step 3).
const MaxIterations = 20

// Orchestrator drives the Agent Set through a per-turn LLM decision loop
// (spec §4.4), reading and mutating an AgentState and optionally recording
// every step to a trace.Recorder.
type Orchestrator struct {
	LLM          llm.Client
	ToolSpecs    []agents.ToolSpec
	PromptGuides map[string]agents.PromptGuide

	Clarifier     *agents.Clarifier
	Generator     *agents.Generator
	Editor        *agents.Editor
	ChunkOperator *agents.ChunkOperator
	Validator     agents.Validator
	PromptFiller  *agents.PromptFiller
	Summarizer    *agents.Summarizer
}

// ToolSpecsFromCatalog projects a catalog's tool listing into the
// agent-facing ToolSpec shape, keeping internal/agents free of a dependency
// on internal/catalog.
func ToolSpecsFromCatalog(cat *catalog.Catalog) []agents.ToolSpec {
	infos := cat.List()
	out := make([]agents.ToolSpec, 0, len(infos))
	for _, t := range infos {
		out = append(out, agents.ToolSpec{
			Name:         t.Name,
			Role:         string(t.Role),
			Category:     t.Category,
			Description:  t.Description,
			InputSchema:  string(t.InputSchema),
			OutputSchema: string(t.OutputSchema),
			UsesLLM:      t.UsesLLM,
		})
	}
	return out
}

var decisionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["call_clarifier", "call_generator", "call_editor", "call_chunk_operator",
				"call_validator", "call_prompt_filler", "call_summarizer", "respond_to_user"]
		},
		"agent_task": {"type": "string"},
		"chunk_operation": {"type": "string"},
		"response_text": {"type": "string"},
		"include_workflow": {"type": "boolean"}
	},
	"required": ["action"]
}`)

// ProcessMessage drains ProcessMessageStreaming and returns its terminal
// FinalEvent, for callers that don't need intermediate progress.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userMessage string, state *AgentState) (FinalEvent, error) {
	events, err := o.ProcessMessageStreaming(ctx, userMessage, state, nil)
	if err != nil {
		return FinalEvent{}, err
	}
	var final FinalEvent
	for ev := range events {
		if f, ok := ev.(FinalEvent); ok {
			final = f
		}
	}
	return final, nil
}

// ProcessMessageStreaming runs the decision loop for one user turn, emitting
// a DecisionEvent/AgentResultEvent per iteration and exactly one terminal
// FinalEvent, then closing the returned channel (spec §4.4).
func (o *Orchestrator) ProcessMessageStreaming(ctx context.Context, userMessage string, state *AgentState, recorder *trace.Recorder) (<-chan Event, error) {
	if state == nil {
		return nil, fmt.Errorf("orchestrator: state is required")
	}

	state.Conversation = append(state.Conversation, ConversationTurn{Role: "user", Content: userMessage})
	state.AgentCallLog = nil

	if recorder != nil {
		_ = recorder.RecordTurnStart(map[string]any{"message": userMessage})
		_ = recorder.RecordInitialState(snapshotState(state))
	}

	out := make(chan Event, 4)
	go func() {
		defer close(out)
		final := o.runLoop(ctx, userMessage, state, recorder, out)
		out <- final
		if recorder != nil {
			costUSD, inTok, outTok := state.Totals()
			_ = recorder.Finalize(costUSD, inTok, outTok)
		}
	}()
	return out, nil
}

func (o *Orchestrator) runLoop(ctx context.Context, userMessage string, state *AgentState, recorder *trace.Recorder, out chan<- Event) FinalEvent {
	for iteration := 1; iteration <= MaxIterations; iteration++ {
		decision, err := o.decide(ctx, state)
		if err != nil {
			if recorder != nil {
				_ = recorder.RecordError(err.Error())
			}
			return o.failureFinal(state, "orchestrator: decision call failed: "+err.Error())
		}

		if recorder != nil {
			_ = recorder.RecordDecision(decision)
		}
		out <- DecisionEvent{Iteration: iteration, Decision: decision}

		if decision.Action == ActionRespondToUser {
			return o.respond(state, decision)
		}

		o.dispatch(ctx, iteration, decision, state, recorder, out)
	}
	return o.failureFinal(state, fmt.Sprintf("orchestrator: exceeded %d iterations without a response", MaxIterations))
}

// decide performs the per-iteration structured LLM call that chooses the
// next action (spec §4.4 step 2b).
func (o *Orchestrator) decide(ctx context.Context, state *AgentState) (OrchestratorDecision, error) {
	system := "You orchestrate a clinical workflow-building assistant. Choose exactly one next " +
		"action from the enum. Call call_validator before ending a turn that changed the " +
		"workflow, and set include_workflow=true on respond_to_user whenever a workflow should " +
		"be shown or has just changed."
	var decision OrchestratorDecision
	_, err := llm.StructuredInto(ctx, o.LLM, llm.StructuredRequest{
		System:     system,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: buildDecisionContext(state)}},
		Schema:     decisionSchema,
		SchemaName: "orchestrator_decision",
	}, &decision)
	return decision, err
}

func buildDecisionContext(state *AgentState) string {
	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, turn := range state.Conversation {
		fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
	}
	if w, ok := state.CurrentWorkflow(); ok {
		steps := len(w.Steps)
		fmt.Fprintf(&sb, "\nCurrent committed workflow %q has %d top-level step(s).\n", state.CurrentWorkflowID, steps)
	} else {
		sb.WriteString("\nNo workflow has been committed yet.\n")
	}
	if state.PendingWorkflow != nil {
		fmt.Fprintf(&sb, "A pending (uncommitted) workflow with %d top-level step(s) is awaiting validation.\n", len(state.PendingWorkflow.Steps))
	}
	if len(state.AgentCallLog) > 0 {
		sb.WriteString("\nAgent calls so far this turn:\n")
		for _, e := range state.AgentCallLog {
			fmt.Fprintf(&sb, "- %s: success=%t %s\n", e.Agent, e.Success, e.Summary)
		}
	}
	return sb.String()
}

// dispatch builds the chosen agent's typed input per spec §4.4.1, invokes
// it (or synthesizes a failure result when a required source is missing),
// records the call, and applies the §4.4.2 result-specific state update.
func (o *Orchestrator) dispatch(ctx context.Context, iteration int, decision OrchestratorDecision, state *AgentState, recorder *trace.Recorder, out chan<- Event) {
	agentName := strings.TrimPrefix(string(decision.Action), "call_")
	started := time.Now()

	var success bool
	var summary string

	switch decision.Action {
	case ActionCallClarifier:
		var current *workflow.Workflow
		if w, ok := state.CurrentWorkflow(); ok {
			current = &w
		}
		in := agents.ClarifierInput{UserRequest: taskOr(decision, state), ToolSpecs: o.ToolSpecs, CurrentWorkflow: current}
		recordInput(recorder, in)
		res := o.Clarifier.Run(ctx, in)
		recordOutput(recorder, res)
		success, summary = res.Success, clarifierSummary(res)
		state.LastAgentResult = res

	case ActionCallGenerator:
		in := agents.GeneratorInput{
			UserIntent:     taskOr(decision, state),
			ToolSpecs:      o.ToolSpecs,
			PatientContext: agents.PatientContext{MRN: state.MRN, CSN: state.CSN},
		}
		recordInput(recorder, in)
		res := o.Generator.Run(ctx, in)
		recordOutput(recorder, res)
		success, summary = res.Success, fmt.Sprintf("generated %d step(s)", len(res.Workflow.Steps))
		if !res.Success {
			summary = res.ErrorMessage
		} else {
			o.setPending(state, res.Workflow)
		}
		state.LastAgentResult = res

	case ActionCallEditor:
		target, ok := workingWorkflow(state)
		if !ok {
			success, summary = synthetic(state, "no workflow to edit")
			break
		}
		in := agents.EditorInput{CurrentWorkflow: target, EditRequest: taskOr(decision, state), ToolSpecs: o.ToolSpecs}
		recordInput(recorder, in)
		res := o.Editor.Run(ctx, in)
		recordOutput(recorder, res)
		success, summary = res.Success, res.ErrorMessage
		if res.Success {
			o.setPending(state, res.Workflow)
			summary = fmt.Sprintf("edited workflow to %d step(s)", len(res.Workflow.Steps))
		}
		state.LastAgentResult = res

	case ActionCallChunkOperator:
		target, ok := workingWorkflow(state)
		if !ok {
			success, summary = synthetic(state, "no workflow to operate on")
			break
		}
		op := decision.ChunkOperation
		if op == "" {
			op = string(agents.ChunkAppend)
		}
		in := agents.ChunkOperatorInput{
			CurrentWorkflow: target,
			Operation:       agents.ChunkOperation(op),
			Description:     taskOr(decision, state),
			ToolSpecs:       o.ToolSpecs,
		}
		recordInput(recorder, in)
		res := o.ChunkOperator.Run(ctx, in)
		recordOutput(recorder, res)
		success, summary = res.Success, res.ErrorMessage
		if res.Success {
			o.setPending(state, res.Workflow)
			summary = fmt.Sprintf("%s: workflow now has %d step(s)", op, len(res.Workflow.Steps))
		}
		state.LastAgentResult = res

	case ActionCallValidator:
		target, ok := workingWorkflow(state)
		if !ok {
			success, summary = synthetic(state, "no workflow to validate")
			break
		}
		in := agents.ValidatorInput{Workflow: target}
		recordInput(recorder, in)
		res := o.Validator.Run(in)
		recordOutput(recorder, res)
		success = res.Valid
		if res.Valid {
			summary = "workflow is valid"
		} else {
			summary = fmt.Sprintf("invalid at step %q: %s", res.BrokenStepID, res.BrokenReason)
		}
		state.LastAgentResult = res

	case ActionCallPromptFiller:
		target, ok := workingWorkflow(state)
		if !ok {
			success, summary = synthetic(state, "no workflow to fill prompts for")
			break
		}
		in := agents.PromptFillerInput{Workflow: target, UserIntent: lastUserMessage(state), PromptGuides: o.PromptGuides}
		recordInput(recorder, in)
		res := o.PromptFiller.Run(ctx, in)
		recordOutput(recorder, res)
		success, summary = res.Success, res.ErrorMessage
		if res.Success {
			state.PendingWorkflow = &res.Workflow
			state.addCost(res.CostUSD, res.InputTokens, res.OutputTokens)
			summary = "filled prompts"
		}
		state.LastAgentResult = res

	case ActionCallSummarizer:
		target, ok := workingWorkflow(state)
		if !ok {
			success, summary = synthetic(state, "no workflow available to summarize")
			break
		}
		in := agents.SummarizerInput{Workflow: target}
		recordInput(recorder, in)
		res := o.Summarizer.Run(ctx, in)
		recordOutput(recorder, res)
		success, summary = res.Success, res.ErrorMessage
		if res.Success {
			s := res.Summary
			state.PendingSummary = &s
			state.addCost(res.CostUSD, res.InputTokens, res.OutputTokens)
			summary = "summarized"
		}
		state.LastAgentResult = res

	default:
		success, summary = false, "unrecognized action "+string(decision.Action)
	}

	state.LastAgent = agentName
	state.AgentCallLog = append(state.AgentCallLog, AgentCallLogEntry{Agent: agentName, Success: success, Summary: summary})
	if recorder != nil {
		_ = recorder.RecordStateSnapshot(snapshotState(state))
	}
	out <- AgentResultEvent{Iteration: iteration, Agent: agentName, Success: success, Summary: summary, DurationMs: time.Since(started).Milliseconds()}
}

// synthetic records a short-circuited failure for an agent call whose
// required source (pending_workflow/current_workflow) was missing, without
// invoking the agent (spec §4.4.1).
func synthetic(state *AgentState, reason string) (bool, string) {
	state.LastAgentResult = agents.Result{Success: false, ErrorMessage: reason}
	return false, reason
}

// workingWorkflow returns the workflow an agent should operate on this turn:
// the pending (work-in-progress) workflow if one exists, otherwise the
// committed current one (spec §4.4.1: "pending ?? current").
func workingWorkflow(state *AgentState) (workflow.Workflow, bool) {
	if state.PendingWorkflow != nil {
		return *state.PendingWorkflow, true
	}
	return state.CurrentWorkflow()
}

// taskOr returns the decision's agent_task, falling back to the latest user
// message when the decision omitted one (spec §4.4.1: "agent_task ∥ user
// message").
func taskOr(decision OrchestratorDecision, state *AgentState) string {
	if decision.AgentTask != "" {
		return decision.AgentTask
	}
	return lastUserMessage(state)
}

// setPending installs a freshly produced workflow as the turn's pending
// workflow, auto-deriving output_definitions from compute-role tool steps
// when the agent left them empty (spec §4.4.2).
func (o *Orchestrator) setPending(state *AgentState, w workflow.Workflow) {
	derived := o.deriveOutputDefinitions(w)
	state.PendingWorkflow = &derived
	state.PendingSummary = nil
}

// deriveOutputDefinitions fills an empty output_definitions list with one
// definition per compute-role ToolStep, mirroring the executor's own
// auto-derivation so a committed workflow always declares its outputs.
func (o *Orchestrator) deriveOutputDefinitions(w workflow.Workflow) workflow.Workflow {
	if len(w.OutputDefinitions) > 0 {
		return w
	}
	roles := make(map[string]string, len(o.ToolSpecs))
	for _, t := range o.ToolSpecs {
		roles[t.Name] = t.Role
	}
	var defs []workflow.OutputDefinition
	w.Walk(func(s workflow.Step) {
		ts, ok := s.(workflow.ToolStep)
		if !ok || roles[ts.Tool] != "compute" {
			return
		}
		defs = append(defs, workflow.OutputDefinition{
			ID:       "out_" + ts.ID,
			Name:     ts.ID,
			Label:    ts.StepSummary,
			ToolName: ts.Tool,
		})
	})
	w.OutputDefinitions = defs
	return w
}

func clarifierSummary(res agents.ClarifierOutput) string {
	if !res.Success {
		return res.ErrorMessage
	}
	return "asked: " + res.Question
}

func lastUserMessage(state *AgentState) string {
	for i := len(state.Conversation) - 1; i >= 0; i-- {
		if state.Conversation[i].Role == "user" {
			return state.Conversation[i].Content
		}
	}
	return ""
}

func recordInput(recorder *trace.Recorder, payload any) {
	if recorder != nil {
		_ = recorder.RecordAgentInput(payload)
	}
}

func recordOutput(recorder *trace.Recorder, payload any) {
	if recorder != nil {
		_ = recorder.RecordAgentOutput(payload)
	}
}

// respond assembles the turn's terminal FinalEvent from a respond_to_user
// decision, committing any pending workflow when the decision asks for it
// to be included (spec §4.4 step 2d).
func (o *Orchestrator) respond(state *AgentState, decision OrchestratorDecision) FinalEvent {
	state.Conversation = append(state.Conversation, ConversationTurn{Role: "assistant", Content: decision.ResponseText})

	final := FinalEvent{ResponseType: ResponseText, Text: decision.ResponseText}
	costUSD, inTok, outTok := state.Totals()
	final.TotalCostUSD, final.TotalInputTokens, final.TotalOutputTokens = costUSD, inTok, outTok

	if !decision.IncludeWorkflow {
		return final
	}

	pendingSummary := state.PendingSummary
	if state.PendingWorkflow != nil {
		state.commitPendingWorkflow()
	}
	w, ok := state.CurrentWorkflow()
	if !ok {
		return final
	}
	final.ResponseType = ResponseWorkflow
	final.Workflow = &w
	final.WorkflowID = state.CurrentWorkflowID
	if pendingSummary != nil {
		final.Summary = *pendingSummary
	}
	ref := state.CurrentWorkflowID
	state.Conversation[len(state.Conversation)-1].WorkflowRef = &ref
	return final
}

func (o *Orchestrator) failureFinal(state *AgentState, text string) FinalEvent {
	state.Conversation = append(state.Conversation, ConversationTurn{Role: "assistant", Content: text})
	costUSD, inTok, outTok := state.Totals()
	return FinalEvent{ResponseType: ResponseText, Text: text, TotalCostUSD: costUSD, TotalInputTokens: inTok, TotalOutputTokens: outTok}
}

// snapshotState renders a compact view of AgentState for trace payloads,
// avoiding a dump of the full workflow history on every step.
func snapshotState(state *AgentState) map[string]any {
	return map[string]any{
		"current_workflow_id":  state.CurrentWorkflowID,
		"has_pending_workflow": state.PendingWorkflow != nil,
		"last_agent":           state.LastAgent,
		"agent_call_log":       state.AgentCallLog,
	}
}
