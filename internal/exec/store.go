package exec

import (
	"fmt"
	"strings"
	"sync"

	"github.com/clinicflow/workflow-engine/internal/catalog"
	"github.com/clinicflow/workflow-engine/internal/toolerrors"
)

// StoreKind distinguishes the three shapes a named store can take (spec
// §4.2.3).
type StoreKind string

const (
	StoreKindList StoreKind = "list"
	StoreKindText StoreKind = "text"
	StoreKindDict StoreKind = "dict"
)

// namedStore holds one store's accumulated state, materialized by the
// executor on behalf of the four writer tools. Stores live in the base scope
// of the run, independent of the loop-iteration scope stack.
type namedStore struct {
	kind      StoreKind
	list      []any
	textParts []string
	dict      map[string]any
}

// stores is the executor-owned registry backing init_store/store_append/
// store_read/build_text. Safe for the executor's single-goroutine-per-run use;
// the mutex guards against concurrent experiment-scheduler fan-out reusing
// one executor instance across patients (it never does, but costs nothing).
type stores struct {
	mu   sync.Mutex
	data map[string]*namedStore
}

func newStores() *stores {
	return &stores{data: make(map[string]*namedStore)}
}

// Apply materializes a StoreOp produced by invoking one of the catalog's
// writer tools, returning the raw value to bind to the step's output
// variable (spec §4.2.3: "tool calls are declarations of intent, and the
// executor materializes them").
func (s *stores) Apply(stepID string, op catalog.StoreOp) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch op.Op {
	case catalog.OpInitStore:
		kind := StoreKind(op.Kind)
		if kind == "" {
			kind = StoreKindList
		}
		s.data[op.Store] = &namedStore{kind: kind, dict: map[string]any{}}
		return nil, nil
	case catalog.OpStoreAppend:
		st, ok := s.data[op.Store]
		if !ok {
			return nil, &toolerrors.ExecutionError{StepID: stepID, Cause: fmt.Errorf("store %q not initialized", op.Store)}
		}
		switch st.kind {
		case StoreKindText:
			st.textParts = append(st.textParts, fmt.Sprintf("%v", op.Value))
		case StoreKindDict:
			if op.Key == "" {
				return nil, &toolerrors.ExecutionError{StepID: stepID, Cause: fmt.Errorf("store %q is a dict: key is required", op.Store)}
			}
			st.dict[op.Key] = op.Value
		default:
			st.list = append(st.list, op.Value)
		}
		return nil, nil
	case catalog.OpStoreRead:
		st, ok := s.data[op.Store]
		if !ok {
			return nil, &toolerrors.ExecutionError{StepID: stepID, Cause: fmt.Errorf("store %q not initialized", op.Store)}
		}
		return st.snapshot(), nil
	case catalog.OpBuildText:
		st, ok := s.data[op.Store]
		if !ok {
			return nil, &toolerrors.ExecutionError{StepID: stepID, Cause: fmt.Errorf("store %q not initialized", op.Store)}
		}
		return buildText(st, op.Template), nil
	default:
		return nil, &toolerrors.ExecutionError{StepID: stepID, Cause: fmt.Errorf("unknown store op %q", op.Op)}
	}
}

func (st *namedStore) snapshot() any {
	switch st.kind {
	case StoreKindText:
		return strings.Join(st.textParts, "")
	case StoreKindDict:
		return st.dict
	default:
		return append([]any(nil), st.list...)
	}
}

// buildText renders template against the store's contents with "items"
// bound to the source store (spec §4.2.3). When no template is supplied it
// falls back to a plain join, matching the bundled build_text(mode=join).
func buildText(st *namedStore, template string) string {
	items := st.snapshot()
	if template == "" {
		parts := make([]string, 0)
		if list, ok := items.([]any); ok {
			for _, item := range list {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			return strings.Join(parts, "\n")
		}
		return fmt.Sprintf("%v", items)
	}
	scope := NewRootScope(map[string]any{"items": items})
	rendered, err := Render("build_text", template, scope)
	if err != nil {
		return fmt.Sprintf("%v", items)
	}
	return stringify(rendered)
}
