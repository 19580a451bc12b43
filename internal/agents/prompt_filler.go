package agents

import (
	"context"
	"encoding/json"

	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// PromptGuide is authoring guidance for one tool's prompt shape, keyed by
// tool name in PromptFillerInput.PromptGuides.
type PromptGuide struct {
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
}

// Prompt is the filled-in shape a ToolStep.Inputs["prompt"] field takes
// (spec §4.3: "a {system_prompt, user_prompt, examples?} object").
type Prompt struct {
	SystemPrompt string   `json:"system_prompt"`
	UserPrompt   string   `json:"user_prompt"`
	Examples     []string `json:"examples,omitempty"`
}

// PromptFillerInput drives PromptFiller.Run.
type PromptFillerInput struct {
	Workflow     workflow.Workflow
	UserIntent   string
	PromptGuides map[string]PromptGuide
}

// PromptFillerOutput carries the workflow with every null prompt field
// populated, plus accumulated LLM cost.
type PromptFillerOutput struct {
	Result
	Workflow     workflow.Workflow `json:"workflow,omitempty"`
	CostUSD      float64           `json:"cost_usd"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
}

var promptSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"system_prompt": {"type": "string"},
		"user_prompt": {"type": "string"}
	},
	"required": ["system_prompt", "user_prompt"]
}`)

// PromptFiller walks the step tree, filling every ToolStep.Inputs["prompt"]
// that is currently null (spec §4.3). A fallback deterministic prompt is
// used whenever a fill call itself fails, so one bad call never aborts the
// whole workflow.
type PromptFiller struct {
	LLM llm.Client
}

func (p *PromptFiller) Run(ctx context.Context, in PromptFillerInput) PromptFillerOutput {
	acc := &llm.Accumulator{}
	out := cloneWorkflow(in.Workflow)
	fillSteps(ctx, p.LLM, out.Steps, in.UserIntent, in.PromptGuides, acc)
	costUSD, inTok, outTok := acc.Totals()
	return PromptFillerOutput{Result: Result{Success: true}, Workflow: out, CostUSD: costUSD, InputTokens: inTok, OutputTokens: outTok}
}

func fillSteps(ctx context.Context, client llm.Client, steps []workflow.Step, intent string, guides map[string]PromptGuide, acc *llm.Accumulator) {
	for i, s := range steps {
		switch v := s.(type) {
		case workflow.ToolStep:
			if v.Inputs != nil {
				if raw, ok := v.Inputs["prompt"]; ok && raw == nil {
					v.Inputs["prompt"] = fillOnePrompt(ctx, client, v.Tool, intent, guides, acc)
				}
			}
			steps[i] = v
		case workflow.LoopStep:
			fillSteps(ctx, client, v.Body, intent, guides, acc)
			steps[i] = v
		case workflow.IfStep:
			fillSteps(ctx, client, v.Then, intent, guides, acc)
			fillSteps(ctx, client, v.Otherwise, intent, guides, acc)
			steps[i] = v
		}
	}
}

func fillOnePrompt(ctx context.Context, client llm.Client, toolName, intent string, guides map[string]PromptGuide, acc *llm.Accumulator) Prompt {
	guide := guides[toolName]
	system := "Write a system_prompt and user_prompt for a clinical analysis tool call, " +
		"given the tool's authoring guide and the user's overall intent."
	content := "Tool: " + toolName + "\nGuide system: " + guide.SystemPrompt + "\nGuide user: " + guide.UserPrompt + "\nIntent: " + intent

	var result Prompt
	meta, err := llm.StructuredInto(ctx, client, llm.StructuredRequest{
		System:     system,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: content}},
		Schema:     promptSchema,
		SchemaName: "prompt",
	}, &result)
	if err != nil {
		return fallbackPrompt(toolName, intent)
	}
	acc.Add(meta)
	return result
}

// fallbackPrompt is the deterministic prompt used when a fill call fails
// (spec §4.3).
func fallbackPrompt(toolName, intent string) Prompt {
	return Prompt{
		SystemPrompt: "You are assisting with a clinical data analysis step using " + toolName + ".",
		UserPrompt:   intent,
	}
}

// cloneWorkflow deep-copies a workflow via its own JSON round trip, so
// PromptFiller never mutates the caller's workflow in place.
func cloneWorkflow(w workflow.Workflow) workflow.Workflow {
	raw, err := w.Marshal()
	if err != nil {
		return w
	}
	cloned, err := workflow.Parse(raw)
	if err != nil {
		return w
	}
	return cloned
}
