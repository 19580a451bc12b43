// Package exec implements the Workflow Executor (component E): an
// interpreter over the workflow schema with a scoped variable store,
// sandboxed template/condition evaluation, and typed error propagation.
package exec

import "github.com/clinicflow/workflow-engine/internal/toolerrors"

// Scope is a single frame of the variable store stack (spec §4 "Variable
// store"). The base frame is seeded with patient context; LoopStep pushes
// one frame per iteration.
type Scope struct {
	vars   map[string]any
	parent *Scope
}

// NewRootScope creates the base scope, seeded with the given variables
// (typically mrn, csn, and any initial_vars supplied to Run).
func NewRootScope(seed map[string]any) *Scope {
	vars := make(map[string]any, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	return &Scope{vars: vars}
}

// Push returns a child scope seeded with vars; assignment and lookup both
// favor the child until it is discarded.
func (s *Scope) Push(vars map[string]any) *Scope {
	child := make(map[string]any, len(vars))
	for k, v := range vars {
		child[k] = v
	}
	return &Scope{vars: child, parent: s}
}

// Set assigns name in this scope (never a parent), per spec's "assignment
// always targets the innermost scope".
func (s *Scope) Set(name string, value any) {
	s.vars[name] = value
}

// Lookup walks inside->out, returning the first binding found.
func (s *Scope) Lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// MustLookup is Lookup but returns a TemplateError-compatible error when the
// name is unresolved, for use by evaluators that need to tag the step id.
func (s *Scope) MustLookup(stepID, name string) (any, error) {
	v, ok := s.Lookup(name)
	if !ok {
		return nil, &toolerrors.TemplateError{StepID: stepID, Expr: name, Reason: "undefined reference"}
	}
	return v, nil
}
