package exec_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinicflow/workflow-engine/internal/catalog"
	"github.com/clinicflow/workflow-engine/internal/exec"
	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/record"
	"github.com/clinicflow/workflow-engine/internal/telemetry"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

type stubLLM struct {
	structured json.RawMessage
}

func (s *stubLLM) Call(ctx context.Context, req llm.CallRequest) (llm.CallResponse, error) {
	return llm.CallResponse{Text: "a brief summary", Meta: llm.CallMeta{Provider: "stub", Model: "stub-1"}}, nil
}

func (s *stubLLM) StructuredCall(ctx context.Context, req llm.StructuredRequest) (llm.StructuredResponse, error) {
	return llm.StructuredResponse{JSON: s.structured, Meta: llm.CallMeta{Provider: "stub", Model: "stub-1"}}, nil
}

func (s *stubLLM) ToolCall(ctx context.Context, req llm.ToolCallRequest) (llm.ToolCallResponse, error) {
	return llm.ToolCallResponse{}, nil
}

func fixtureStore() record.Store {
	return record.NewInMemoryStore([]record.Patient{
		{
			MRN: "mrn1",
			Encounters: []record.Encounter{
				{
					CSN:       "csn1",
					AdmitTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
					Notes: []record.Note{
						{ID: "n1", Type: "progress", Text: "patient reports low mood"},
						{ID: "n2", Type: "progress", Text: "patient denies depression"},
					},
				},
			},
		},
	})
}

func newTestExecutor(t *testing.T, structured json.RawMessage) *exec.Executor {
	t.Helper()
	cat, err := catalog.NewBuiltin(&stubLLM{structured: structured})
	require.NoError(t, err)
	return exec.New(cat, fixtureStore(), &stubLLM{structured: structured}, telemetry.NoopTracer{})
}

func TestExecuteToolStepBindsOutput(t *testing.T) {
	e := newTestExecutor(t, nil)
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{ID: "list_notes", Tool: "get_patient_notes_ids", Inputs: map[string]any{}, Output: "note_ids"},
		},
		OutputMappings: []workflow.OutputMapping{
			{OutputDefinitionID: "out_list_notes", SourceVariable: "note_ids"},
		},
	}
	result, err := e.Run(context.Background(), w, map[string]any{"mrn": "mrn1", "csn": "csn1"})
	require.NoError(t, err)
	require.Len(t, result.OutputValues, 1)
	require.ElementsMatch(t, []any{"n1", "n2"}, result.OutputValues[0].Values)
}

func TestLoopOverEmptyListLeavesOutputDictEmpty(t *testing.T) {
	e := newTestExecutor(t, nil)
	outName := "analyses"
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{ID: "diag", Tool: "get_diagnoses", Inputs: map[string]any{}, Output: "diagnoses"},
			workflow.LoopStep{
				ID: "per_diag", For: "d", In: "diagnoses",
				Body:       workflow.StepList{},
				OutputDict: &outName,
			},
		},
		OutputMappings: []workflow.OutputMapping{
			{OutputDefinitionID: "out_analyses", SourceVariable: "analyses"},
		},
	}
	result, err := e.Run(context.Background(), w, map[string]any{"mrn": "mrn1", "csn": "csn1"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{}, result.OutputValues[0].Values)
}

func TestGenerateValidatePromptFillHappyPathExecution(t *testing.T) {
	structured, _ := json.Marshal(map[string]any{"answer": "yes", "span": "low mood", "reason": "explicit statement"})
	e := newTestExecutor(t, structured)

	outName := "analyses"
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{ID: "list_notes", Tool: "get_patient_notes_ids", Inputs: map[string]any{}, Output: "note_ids"},
			workflow.LoopStep{
				ID: "per_note", For: "note_id", In: "note_ids",
				Body: workflow.StepList{
					workflow.ToolStep{ID: "read_note", Tool: "read_patient_note", Inputs: map[string]any{"note_id": "{{note_id}}"}, Output: "note"},
					workflow.ToolStep{
						ID:   "analyze",
						Tool: "analyze_note_with_span_and_reason",
						Inputs: map[string]any{
							"note_text": "{{note.text}}",
							"question":  "Does this note mention depression?",
						},
						Output: "analysis",
					},
				},
				OutputDict: &outName,
			},
		},
		OutputMappings: []workflow.OutputMapping{
			{OutputDefinitionID: "out_analyses", SourceVariable: "analyses"},
		},
	}
	result, err := e.Run(context.Background(), w, map[string]any{"mrn": "mrn1", "csn": "csn1"})
	require.NoError(t, err)
	analyses, ok := result.OutputValues[0].Values.(map[string]any)
	require.True(t, ok)
	require.Len(t, analyses, 2)
}

func TestTemplateSafetyRejectsForbiddenToken(t *testing.T) {
	e := newTestExecutor(t, nil)
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{
				ID:   "bad",
				Tool: "read_patient_note",
				Inputs: map[string]any{
					"note_id": "{{ __import__('os').system('rm -rf /') }}",
				},
				Output: "note",
			},
		},
	}
	_, err := e.Run(context.Background(), w, map[string]any{"mrn": "mrn1", "csn": "csn1"})
	require.Error(t, err)
}

func TestIfStepBranchesOnTruthyFlag(t *testing.T) {
	e := newTestExecutor(t, nil)
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.FlagVariableStep{ID: "flag", Variable: "enabled", Value: true},
			workflow.IfStep{
				ID:        "branch",
				Condition: workflow.Condition{Truthy: "enabled"},
				Then: workflow.StepOrList{
					workflow.ToolStep{ID: "meds", Tool: "get_medications", Inputs: map[string]any{}, Output: "meds_out"},
				},
			},
		},
		OutputMappings: []workflow.OutputMapping{
			{OutputDefinitionID: "out_meds", SourceVariable: "meds_out"},
		},
	}
	result, err := e.Run(context.Background(), w, map[string]any{"mrn": "mrn1", "csn": "csn1"})
	require.NoError(t, err)
	require.Len(t, result.OutputValues, 1)
}

func TestStoreWriterRoundTrip(t *testing.T) {
	e := newTestExecutor(t, nil)
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{ID: "init", Tool: "init_store", Inputs: map[string]any{"store": "findings", "type": "list"}, Output: "_"},
			workflow.ToolStep{ID: "append1", Tool: "store_append", Inputs: map[string]any{"store": "findings", "value": "finding-a"}, Output: "_"},
			workflow.ToolStep{ID: "append2", Tool: "store_append", Inputs: map[string]any{"store": "findings", "value": "finding-b"}, Output: "_"},
			workflow.ToolStep{ID: "read", Tool: "store_read", Inputs: map[string]any{"store": "findings"}, Output: "findings_out"},
		},
		OutputMappings: []workflow.OutputMapping{
			{OutputDefinitionID: "out_findings", SourceVariable: "findings_out"},
		},
	}
	result, err := e.Run(context.Background(), w, map[string]any{"mrn": "mrn1", "csn": "csn1"})
	require.NoError(t, err)
	require.Equal(t, []any{"finding-a", "finding-b"}, result.OutputValues[0].Values)
}
