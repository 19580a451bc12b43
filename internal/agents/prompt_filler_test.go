package agents_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinicflow/workflow-engine/internal/agents"
	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

type fixedPromptClient struct {
	fail bool
}

func (c *fixedPromptClient) Call(ctx context.Context, req llm.CallRequest) (llm.CallResponse, error) {
	return llm.CallResponse{}, fmt.Errorf("not used")
}

func (c *fixedPromptClient) StructuredCall(ctx context.Context, req llm.StructuredRequest) (llm.StructuredResponse, error) {
	if c.fail {
		return llm.StructuredResponse{}, fmt.Errorf("provider unavailable")
	}
	return llm.StructuredResponse{
		JSON: json.RawMessage(`{"system_prompt":"You analyze clinical notes.","user_prompt":"Flag any mention of depression."}`),
		Meta: llm.CallMeta{CostUSD: 0.01, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}},
	}, nil
}

func (c *fixedPromptClient) ToolCall(ctx context.Context, req llm.ToolCallRequest) (llm.ToolCallResponse, error) {
	return llm.ToolCallResponse{}, fmt.Errorf("not used")
}

func promptFillerFixture() workflow.Workflow {
	return workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{ID: "list", Tool: "get_patient_notes_ids", Inputs: map[string]any{}, Output: "note_ids"},
			workflow.LoopStep{
				ID: "per_note", For: "note_id", In: "note_ids",
				Body: workflow.StepList{
					workflow.ToolStep{
						ID:     "analyze",
						Tool:   "analyze_note_with_span_and_reason",
						Inputs: map[string]any{"note_text": "{{note.text}}", "prompt": nil},
						Output: "analysis",
					},
				},
			},
		},
	}
}

func findAnalyzePrompt(t *testing.T, w workflow.Workflow) any {
	t.Helper()
	var prompt any
	found := false
	w.Walk(func(s workflow.Step) {
		ts, ok := s.(workflow.ToolStep)
		if !ok || ts.ID != "analyze" {
			return
		}
		prompt, found = ts.Inputs["prompt"], true
	})
	require.True(t, found)
	return prompt
}

func TestPromptFillerFillsNestedNullPrompts(t *testing.T) {
	filler := &agents.PromptFiller{LLM: &fixedPromptClient{}}
	out := filler.Run(context.Background(), agents.PromptFillerInput{
		Workflow:   promptFillerFixture(),
		UserIntent: "flag depression in every note",
		PromptGuides: map[string]agents.PromptGuide{
			"analyze_note_with_span_and_reason": {SystemPrompt: "analyzer guide", UserPrompt: "cite a span"},
		},
	})
	require.True(t, out.Success)

	prompt, ok := findAnalyzePrompt(t, out.Workflow).(agents.Prompt)
	require.True(t, ok)
	require.Equal(t, "You analyze clinical notes.", prompt.SystemPrompt)
	require.Equal(t, "Flag any mention of depression.", prompt.UserPrompt)

	require.Equal(t, 0.01, out.CostUSD)
	require.Equal(t, 10, out.InputTokens)
	require.Equal(t, 5, out.OutputTokens)
}

func TestPromptFillerFallsBackWhenCallFails(t *testing.T) {
	filler := &agents.PromptFiller{LLM: &fixedPromptClient{fail: true}}
	out := filler.Run(context.Background(), agents.PromptFillerInput{
		Workflow:   promptFillerFixture(),
		UserIntent: "flag depression in every note",
	})
	require.True(t, out.Success, "a failed fill call falls back rather than failing the agent")

	prompt, ok := findAnalyzePrompt(t, out.Workflow).(agents.Prompt)
	require.True(t, ok)
	require.NotEmpty(t, prompt.SystemPrompt)
	require.Equal(t, "flag depression in every note", prompt.UserPrompt)
	require.Zero(t, out.CostUSD)
}

func TestPromptFillerPreservesExistingPrompts(t *testing.T) {
	existing := map[string]any{"system_prompt": "keep me", "user_prompt": "as is"}
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{
				ID:     "analyze",
				Tool:   "analyze_note_with_span_and_reason",
				Inputs: map[string]any{"note_text": "text", "prompt": existing},
				Output: "analysis",
			},
		},
	}
	filler := &agents.PromptFiller{LLM: &fixedPromptClient{}}
	out := filler.Run(context.Background(), agents.PromptFillerInput{Workflow: w, UserIntent: "anything"})
	require.True(t, out.Success)
	require.Equal(t, existing, findAnalyzePrompt(t, out.Workflow))
}
