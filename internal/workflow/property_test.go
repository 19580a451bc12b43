package workflow_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// TestToolStepMarshalRoundTripProperty verifies a ToolStep carrying arbitrary
// id/tool/output strings survives a Marshal/Parse round trip unchanged,
// since agents mutate a workflow by re-serializing it wholesale (spec §4.4:
// "the workflow ... is preserved byte-for-byte outside the edited step").
func TestToolStepMarshalRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tool step survives marshal/parse", prop.ForAll(
		func(id, tool, output string) bool {
			w := workflow.Workflow{
				Steps: workflow.StepList{
					workflow.ToolStep{ID: id, Tool: tool, Output: output, Inputs: map[string]any{}},
				},
			}
			data, err := w.Marshal()
			if err != nil {
				return false
			}
			got, err := workflow.Parse(data)
			if err != nil {
				return false
			}
			if len(got.Steps) != 1 {
				return false
			}
			ts, ok := got.Steps[0].(workflow.ToolStep)
			if !ok {
				return false
			}
			return ts.ID == id && ts.Tool == tool && ts.Output == output
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("AllIDs visits nested loop bodies in walk order", prop.ForAll(
		func(outerID, innerID string) bool {
			w := workflow.Workflow{
				Steps: workflow.StepList{
					workflow.LoopStep{
						ID:  outerID,
						For: "x", In: "xs",
						Body: workflow.StepList{
							workflow.FlagVariableStep{ID: innerID, Variable: "f", Value: true},
						},
					},
				},
			}
			ids := w.AllIDs()
			return len(ids) == 2 && ids[0] == outerID && ids[1] == innerID
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestConditionRoundTripProperty verifies a Comparison condition's
// left/operator/right survive a Marshal/Parse round trip, grounding the
// resolved Open Question on Condition's wire shape (DESIGN.md).
func TestConditionRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	ops := []string{
		workflow.OpEqual, workflow.OpNotEqual, workflow.OpLess,
		workflow.OpLessEqual, workflow.OpGreater, workflow.OpGreaterEqual,
	}

	properties.Property("comparison condition survives marshal/parse", prop.ForAll(
		func(left, right string, opIdx int) bool {
			op := ops[opIdx%len(ops)]
			w := workflow.Workflow{
				Steps: workflow.StepList{
					workflow.IfStep{
						ID:        "check",
						Condition: workflow.Condition{Comparison: &workflow.Comparison{Left: left, Operator: op, Right: right}},
						Then:      workflow.StepOrList{workflow.FlagVariableStep{ID: "t", Variable: "v", Value: true}},
					},
				},
			}
			data, err := w.Marshal()
			if err != nil {
				return false
			}
			got, err := workflow.Parse(data)
			if err != nil {
				return false
			}
			ifs, ok := got.Steps[0].(workflow.IfStep)
			if !ok || ifs.Condition.Comparison == nil {
				return false
			}
			c := ifs.Condition.Comparison
			return c.Left == left && c.Operator == op && c.Right == right
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
