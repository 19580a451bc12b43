package exec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clinicflow/workflow-engine/internal/toolerrors"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// EvalCondition evaluates an IfStep's condition (spec §4.2.2): a truthy
// check, a comparison, or a logical combination. Comparison operands are
// rendered exactly as ToolStep inputs are.
func EvalCondition(stepID string, c workflow.Condition, scope *Scope) (bool, error) {
	switch {
	case c.Comparison != nil:
		return evalComparison(stepID, *c.Comparison, scope)
	case c.Logical != nil:
		return evalLogical(stepID, *c.Logical, scope)
	default:
		v, err := Render(stepID, c.Truthy, scope)
		if err != nil {
			return false, err
		}
		return Truthy(v), nil
	}
}

func evalComparison(stepID string, c workflow.Comparison, scope *Scope) (bool, error) {
	left, err := Render(stepID, c.Left, scope)
	if err != nil {
		return false, err
	}
	right, err := Render(stepID, c.Right, scope)
	if err != nil {
		return false, err
	}
	switch c.Operator {
	case workflow.OpEqual:
		return looseEqual(left, right), nil
	case workflow.OpNotEqual:
		return !looseEqual(left, right), nil
	case workflow.OpLess, workflow.OpLessEqual, workflow.OpGreater, workflow.OpGreaterEqual:
		lf, lok := asFloat(left)
		rf, rok := asFloat(right)
		if !lok || !rok {
			return false, &toolerrors.TemplateError{StepID: stepID, Expr: c.Left, Reason: "comparison requires numeric operands"}
		}
		switch c.Operator {
		case workflow.OpLess:
			return lf < rf, nil
		case workflow.OpLessEqual:
			return lf <= rf, nil
		case workflow.OpGreater:
			return lf > rf, nil
		default:
			return lf >= rf, nil
		}
	case workflow.OpIn, workflow.OpNotIn:
		found, err := memberOf(stepID, left, right)
		if err != nil {
			return false, err
		}
		if c.Operator == workflow.OpNotIn {
			return !found, nil
		}
		return found, nil
	default:
		return false, &toolerrors.TemplateError{StepID: stepID, Expr: c.Operator, Reason: "unknown comparison operator"}
	}
}

func evalLogical(stepID string, l workflow.Logical, scope *Scope) (bool, error) {
	switch l.Operator {
	case workflow.LogicalNot:
		if len(l.Operands) != 1 {
			return false, &toolerrors.TemplateError{StepID: stepID, Expr: "not", Reason: "not requires exactly one operand"}
		}
		v, err := EvalCondition(stepID, l.Operands[0], scope)
		return !v, err
	case workflow.LogicalAnd:
		for _, op := range l.Operands {
			v, err := EvalCondition(stepID, op, scope)
			if err != nil {
				return false, err
			}
			if !v {
				return false, nil
			}
		}
		return true, nil
	case workflow.LogicalOr:
		for _, op := range l.Operands {
			v, err := EvalCondition(stepID, op, scope)
			if err != nil {
				return false, err
			}
			if v {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &toolerrors.TemplateError{StepID: stepID, Expr: l.Operator, Reason: "unknown logical operator"}
	}
}

func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func memberOf(stepID string, needle, haystack any) (bool, error) {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if looseEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		n, ok := needle.(string)
		if !ok {
			return false, &toolerrors.TemplateError{StepID: stepID, Expr: "in", Reason: "string membership requires a string operand"}
		}
		return strings.Contains(h, n), nil
	default:
		return false, &toolerrors.TemplateError{StepID: stepID, Expr: "in", Reason: "right side of 'in' must be a list or string"}
	}
}
