// Package workflow implements the Workflow Schema (component D): a declarative,
// JSON-serializable tree of steps describing a DAG of tool invocations with
// loops and conditionals, plus the output-definition/output-mapping bindings
// that project step results into typed experiment outputs.
package workflow

import (
	"encoding/json"
	"fmt"
)

// Step is the discriminated union over the four step variants (spec §3).
// Concrete types are ToolStep, LoopStep, IfStep, FlagVariableStep.
type Step interface {
	StepID() string
	stepType() string
}

type (
	// ToolStep invokes a single catalog tool, binding its raw output to a
	// named variable in the current scope.
	ToolStep struct {
		ID          string         `json:"id"`
		StepSummary string         `json:"step_summary,omitempty"`
		Tool        string         `json:"tool"`
		Inputs      map[string]any `json:"inputs"`
		Output      string         `json:"output"`
	}

	// LoopStep iterates In, which must evaluate to a list, binding each item
	// to For in a pushed scope and executing Body sequentially.
	LoopStep struct {
		ID         string   `json:"id"`
		For        string   `json:"for"`
		In         string   `json:"in"`
		Body       StepList `json:"body"`
		OutputDict *string  `json:"output_dict,omitempty"`
	}

	// IfStep executes Then when Condition evaluates truthy, otherwise
	// Otherwise if present. Then/Otherwise accept either a single step or a
	// list of steps on the wire; Steps normalizes both to a slice.
	IfStep struct {
		ID        string     `json:"id"`
		Condition Condition  `json:"condition"`
		Then      StepOrList `json:"then"`
		Otherwise StepOrList `json:"otherwise,omitempty"`
	}

	// FlagVariableStep binds a literal boolean to Variable in the current
	// scope, used to seed feature flags consulted by later IfStep conditions.
	FlagVariableStep struct {
		ID       string `json:"id"`
		Variable string `json:"variable"`
		Value    bool   `json:"value"`
	}
)

func (s ToolStep) StepID() string         { return s.ID }
func (s LoopStep) StepID() string         { return s.ID }
func (s IfStep) StepID() string           { return s.ID }
func (s FlagVariableStep) StepID() string { return s.ID }

func (ToolStep) stepType() string         { return "tool" }
func (LoopStep) stepType() string         { return "loop" }
func (IfStep) stepType() string           { return "if" }
func (FlagVariableStep) stepType() string { return "flag_variable" }

// StepOrList normalizes IfStep.Then/Otherwise, which may appear on the wire
// as either a single step object or a JSON array of step objects.
type StepOrList []Step

func (l StepOrList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return marshalStep(l[0])
	}
	steps := make([]json.RawMessage, 0, len(l))
	for _, s := range l {
		raw, err := marshalStep(s)
		if err != nil {
			return nil, err
		}
		steps = append(steps, raw)
	}
	return json.Marshal(steps)
}

func (l *StepOrList) UnmarshalJSON(data []byte) error {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return err
		}
		steps := make([]Step, 0, len(raws))
		for _, raw := range raws {
			s, err := unmarshalStep(raw)
			if err != nil {
				return err
			}
			steps = append(steps, s)
		}
		*l = steps
		return nil
	}
	s, err := unmarshalStep(data)
	if err != nil {
		return err
	}
	*l = StepOrList{s}
	return nil
}

func trimLeadingSpace(data []byte) []byte {
	i := 0
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return data[i:]
}

// typeEnvelope carries the discriminant used to pick a concrete Step type.
type typeEnvelope struct {
	Type string `json:"type"`
}

func marshalStep(s Step) ([]byte, error) {
	switch v := s.(type) {
	case ToolStep:
		return marshalTyped("tool", v)
	case *ToolStep:
		return marshalTyped("tool", *v)
	case LoopStep:
		return marshalTyped("loop", v)
	case *LoopStep:
		return marshalTyped("loop", *v)
	case IfStep:
		return marshalTyped("if", v)
	case *IfStep:
		return marshalTyped("if", *v)
	case FlagVariableStep:
		return marshalTyped("flag_variable", v)
	case *FlagVariableStep:
		return marshalTyped("flag_variable", *v)
	default:
		return nil, fmt.Errorf("workflow: unknown step type %T", s)
	}
}

func marshalTyped(typ string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", typ))
	return json.Marshal(fields)
}

func unmarshalStep(data []byte) (Step, error) {
	var env typeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("workflow: reading step type discriminant: %w", err)
	}
	switch env.Type {
	case "tool":
		var s ToolStep
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "loop":
		var s LoopStep
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "if":
		var s IfStep
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "flag_variable":
		var s FlagVariableStep
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("workflow: unknown step type %q", env.Type)
	}
}

// StepList is a JSON-(de)serializable []Step, used for Workflow.Steps and
// LoopStep.Body.
type StepList []Step

func (l StepList) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(l))
	for _, s := range l {
		raw, err := marshalStep(s)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}

func (l *StepList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	steps := make([]Step, 0, len(raws))
	for _, raw := range raws {
		s, err := unmarshalStep(raw)
		if err != nil {
			return err
		}
		steps = append(steps, s)
	}
	*l = steps
	return nil
}
