package agents

import (
	"fmt"
	"regexp"

	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// ValidatorInput drives Validator.Run.
type ValidatorInput struct {
	Workflow workflow.Workflow
}

// ValidatorOutput reports whether the workflow is well-formed (spec §4.3:
// "rule-based, no LLM"). BrokenStepID/BrokenReason are set only when Valid
// is false.
type ValidatorOutput struct {
	Valid        bool   `json:"valid"`
	BrokenStepID string `json:"broken_step_id,omitempty"`
	BrokenReason string `json:"broken_reason,omitempty"`
}

// Validator performs static checks over a workflow without ever calling an
// LLM: step id uniqueness, template-reference resolution, LoopStep.in
// binding, and condition well-formedness.
type Validator struct{}

var templateRefPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)`)

// Run implements spec §4.3's Validator contract.
func (Validator) Run(in ValidatorInput) ValidatorOutput {
	w := in.Workflow

	if dupes := workflow.DuplicateIDs(w); len(dupes) > 0 {
		return ValidatorOutput{Valid: false, BrokenStepID: dupes[0], BrokenReason: fmt.Sprintf("duplicate step id %q", dupes[0])}
	}

	defined := map[string]bool{"mrn": true, "csn": true}
	if out := validateSteps(w.Steps, defined); !out.Valid {
		return out
	}
	return ValidatorOutput{Valid: true}
}

// validateSteps walks steps in order, threading a defined-variable set that
// grows as ToolStep/LoopStep/FlagVariableStep bind new names, matching the
// executor's own left-to-right, inside-out scoping rules.
func validateSteps(steps []workflow.Step, defined map[string]bool) ValidatorOutput {
	for _, s := range steps {
		switch v := s.(type) {
		case workflow.ToolStep:
			for _, input := range v.Inputs {
				if out := checkTemplateRefs(v.ID, input, defined); !out.Valid {
					return out
				}
			}
			if v.Output != "" {
				defined[v.Output] = true
			}
		case workflow.LoopStep:
			if !defined[v.In] {
				return ValidatorOutput{Valid: false, BrokenStepID: v.ID, BrokenReason: fmt.Sprintf("LoopStep.in references undefined variable %q", v.In)}
			}
			inner := cloneSet(defined)
			inner[v.For] = true
			if out := validateSteps(v.Body, inner); !out.Valid {
				return out
			}
			if v.OutputDict != nil {
				defined[*v.OutputDict] = true
			}
		case workflow.IfStep:
			if out := checkCondition(v.ID, v.Condition, defined); !out.Valid {
				return out
			}
			if out := validateSteps(v.Then, cloneSet(defined)); !out.Valid {
				return out
			}
			if out := validateSteps(v.Otherwise, cloneSet(defined)); !out.Valid {
				return out
			}
		case workflow.FlagVariableStep:
			defined[v.Variable] = true
		}
	}
	return ValidatorOutput{Valid: true}
}

func checkTemplateRefs(stepID string, value any, defined map[string]bool) ValidatorOutput {
	s, ok := value.(string)
	if !ok {
		return ValidatorOutput{Valid: true}
	}
	for _, m := range templateRefPattern.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if isSafeBuiltinName(name) {
			continue
		}
		if !defined[name] {
			return ValidatorOutput{Valid: false, BrokenStepID: stepID, BrokenReason: fmt.Sprintf("undefined reference %q", name)}
		}
	}
	return ValidatorOutput{Valid: true}
}

func checkCondition(stepID string, c workflow.Condition, defined map[string]bool) ValidatorOutput {
	switch {
	case c.Comparison != nil:
		if out := checkTemplateRefs(stepID, c.Comparison.Left, defined); !out.Valid {
			return out
		}
		return checkTemplateRefs(stepID, c.Comparison.Right, defined)
	case c.Logical != nil:
		switch c.Logical.Operator {
		case "and", "or":
			if len(c.Logical.Operands) == 0 {
				return ValidatorOutput{Valid: false, BrokenStepID: stepID, BrokenReason: "logical condition has no operands"}
			}
		case "not":
			if len(c.Logical.Operands) != 1 {
				return ValidatorOutput{Valid: false, BrokenStepID: stepID, BrokenReason: "'not' requires exactly one operand"}
			}
		default:
			return ValidatorOutput{Valid: false, BrokenStepID: stepID, BrokenReason: fmt.Sprintf("unknown logical operator %q", c.Logical.Operator)}
		}
		for _, op := range c.Logical.Operands {
			if out := checkCondition(stepID, op, defined); !out.Valid {
				return out
			}
		}
		return ValidatorOutput{Valid: true}
	default:
		if c.Truthy == "" {
			return ValidatorOutput{Valid: false, BrokenStepID: stepID, BrokenReason: "condition has no truthy, comparison, or logical variant set"}
		}
		return checkTemplateRefs(stepID, c.Truthy, defined)
	}
}

func cloneSet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func isSafeBuiltinName(name string) bool {
	switch name {
	case "len", "min", "max", "sum", "abs", "round", "str", "int", "float", "bool":
		return true
	default:
		return false
	}
}
