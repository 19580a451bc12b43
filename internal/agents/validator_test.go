package agents_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinicflow/workflow-engine/internal/agents"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

func TestValidatorCatchesUndefinedLoopVariable(t *testing.T) {
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.LoopStep{ID: "loop1", For: "x", In: "undefined_var", Body: workflow.StepList{}},
		},
	}
	out := agents.Validator{}.Run(agents.ValidatorInput{Workflow: w})
	require.False(t, out.Valid)
	require.Contains(t, out.BrokenReason, "undefined_var")
}

func TestValidatorAcceptsWellFormedWorkflow(t *testing.T) {
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{ID: "list_notes", Tool: "get_patient_notes_ids", Inputs: map[string]any{}, Output: "note_ids"},
			workflow.LoopStep{
				ID: "per_note", For: "note_id", In: "note_ids",
				Body: workflow.StepList{
					workflow.ToolStep{ID: "read_note", Tool: "read_patient_note", Inputs: map[string]any{"note_id": "{{note_id}}"}, Output: "note"},
				},
			},
		},
	}
	out := agents.Validator{}.Run(agents.ValidatorInput{Workflow: w})
	require.True(t, out.Valid)
}

func TestValidatorCatchesDuplicateStepID(t *testing.T) {
	w := workflow.Workflow{
		Steps: workflow.StepList{
			workflow.ToolStep{ID: "a", Tool: "get_patient_notes_ids", Inputs: map[string]any{}, Output: "x"},
			workflow.ToolStep{ID: "a", Tool: "get_medications", Inputs: map[string]any{}, Output: "y"},
		},
	}
	out := agents.Validator{}.Run(agents.ValidatorInput{Workflow: w})
	require.False(t, out.Valid)
	require.Equal(t, "a", out.BrokenStepID)
}
