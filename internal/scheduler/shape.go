package scheduler

import (
	"strconv"

	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// ShapeValidator checks a workflow's shape before an experiment may be
// submitted against it (spec §4.6: "workflow exists and has the expected
// shape"). The historical SDOH check hardcoded "exactly nine
// analyze_note_with_span_and_reason steps"; spec §9 records that count as a
// precondition the reference deployment enforced, not a mandate, so callers
// parameterize it via RequireToolStepCount rather than a baked-in constant.
type ShapeValidator func(w workflow.Workflow) error

// RequireToolStepCount builds a ShapeValidator that rejects a workflow
// unless it contains exactly n ToolSteps invoking toolName, counted across
// the full step tree including loop/if bodies.
func RequireToolStepCount(toolName string, n int) ShapeValidator {
	return func(w workflow.Workflow) error {
		count := 0
		w.Walk(func(s workflow.Step) {
			ts, ok := s.(workflow.ToolStep)
			if ok && ts.Tool == toolName {
				count++
			}
		})
		if count != n {
			return &shapeError{toolName: toolName, want: n, got: count}
		}
		return nil
	}
}

type shapeError struct {
	toolName  string
	want, got int
}

func (e *shapeError) Error() string {
	return "workflow must have exactly " + strconv.Itoa(e.want) + " " + e.toolName +
		" step(s), has " + strconv.Itoa(e.got)
}
