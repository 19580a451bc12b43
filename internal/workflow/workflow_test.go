package workflow_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinicflow/workflow-engine/internal/workflow"
)

const sampleWorkflowJSON = `{
  "steps": [
    {
      "type": "tool",
      "id": "list_notes",
      "step_summary": "list note ids",
      "tool": "get_patient_notes_ids",
      "inputs": {},
      "output": "note_ids"
    },
    {
      "type": "loop",
      "id": "per_note",
      "for": "note_id",
      "in": "note_ids",
      "body": [
        {
          "type": "tool",
          "id": "read_note",
          "tool": "read_patient_note",
          "inputs": {"note_id": "{{note_id}}"},
          "output": "note"
        },
        {
          "type": "if",
          "id": "check_depression",
          "condition": {"truthy": "flag_on"},
          "then": {
            "type": "tool",
            "id": "analyze",
            "tool": "analyze_note_with_span_and_reason",
            "inputs": {"note_text": "{{note.text}}", "question": "depression?"},
            "output": "analysis"
          }
        }
      ],
      "output_dict": "analyses"
    }
  ],
  "output_definitions": [
    {"id": "out_analyze", "name": "analyze", "label": "Depression flags", "tool_name": "analyze_note_with_span_and_reason"}
  ],
  "output_mappings": [
    {"output_definition_id": "out_analyze", "source_variable": "analyses"}
  ]
}`

func TestParseRoundTrip(t *testing.T) {
	w, err := workflow.Parse([]byte(sampleWorkflowJSON))
	require.NoError(t, err)
	require.Len(t, w.Steps, 2)

	remarshaled, err := w.Marshal()
	require.NoError(t, err)

	var want, got any
	require.NoError(t, json.Unmarshal([]byte(sampleWorkflowJSON), &want))
	require.NoError(t, json.Unmarshal(remarshaled, &got))
	require.Equal(t, want, got)
}

func TestAllIDsAndToolSteps(t *testing.T) {
	w, err := workflow.Parse([]byte(sampleWorkflowJSON))
	require.NoError(t, err)

	ids := w.AllIDs()
	require.Contains(t, ids, "list_notes")
	require.Contains(t, ids, "per_note")
	require.Contains(t, ids, "read_note")
	require.Contains(t, ids, "check_depression")
	require.Contains(t, ids, "analyze")

	require.Empty(t, workflow.DuplicateIDs(w))

	tools := w.ToolSteps()
	require.Len(t, tools, 3)
}

func TestDuplicateIDsDetected(t *testing.T) {
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{ID: "a", Tool: "get_patient_notes_ids", Output: "x"},
			workflow.ToolStep{ID: "a", Tool: "get_medications", Output: "y"},
		},
	}
	require.Equal(t, []string{"a"}, workflow.DuplicateIDs(w))
}

func TestIfStepSingleThenMarshalsAsObject(t *testing.T) {
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.IfStep{
				ID:        "cond",
				Condition: workflow.Condition{Truthy: "flag"},
				Then:      workflow.StepOrList{workflow.FlagVariableStep{ID: "f", Variable: "x", Value: true}},
			},
		},
	}
	raw, err := w.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	steps := decoded["steps"].([]any)
	ifStep := steps[0].(map[string]any)
	_, isObject := ifStep["then"].(map[string]any)
	require.True(t, isObject, "single-step Then must marshal as an object, not a one-element array")
}
