package exec

import (
	"context"
	"fmt"
	"reflect"

	"github.com/clinicflow/workflow-engine/internal/catalog"
	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/record"
	"github.com/clinicflow/workflow-engine/internal/telemetry"
	"github.com/clinicflow/workflow-engine/internal/toolerrors"
	"github.com/clinicflow/workflow-engine/internal/workflow"
)

// OutputValue is a single projected result, bound via output_mappings onto
// an OutputDefinition (spec §3 Experiment / §4 "result envelope").
type OutputValue struct {
	ID                 string         `json:"id"`
	OutputDefinitionID string         `json:"output_definition_id"`
	ResourceID         string         `json:"resource_id,omitempty"`
	Values             any            `json:"values"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Result is the executor's result envelope (spec §4: "Output envelope:
// {mrn, csn, output_definitions[], output_values[]}").
type Result struct {
	MRN               string                      `json:"mrn"`
	CSN               string                      `json:"csn"`
	OutputDefinitions []workflow.OutputDefinition `json:"output_definitions"`
	OutputValues      []OutputValue               `json:"output_values"`
}

// Executor interprets a Workflow against a Tool Catalog and Record Store
// (component E).
type Executor struct {
	catalog *catalog.Catalog
	record  record.Store
	llm     llm.Client
	tracer  telemetry.Tracer
	cost    *llm.Accumulator
}

// New builds an Executor. tracer may be telemetry.NoopTracer{} in tests.
func New(cat *catalog.Catalog, rec record.Store, client llm.Client, tracer telemetry.Tracer) *Executor {
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	return &Executor{catalog: cat, record: rec, llm: client, tracer: tracer, cost: &llm.Accumulator{}}
}

// Cost returns the running cost/token totals accumulated by every LLM-backed
// tool call this Executor has made.
func (e *Executor) Cost() (costUSD float64, inputTokens, outputTokens int) {
	return e.cost.Totals()
}

// Run executes workflow w against initialVars, which must contain at least
// mrn and csn (spec §4 step 1-7).
func (e *Executor) Run(ctx context.Context, w workflow.Workflow, initialVars map[string]any) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "exec.Run")
	defer span.End()

	mrn, _ := initialVars["mrn"].(string)
	csn, _ := initialVars["csn"].(string)

	root := NewRootScope(initialVars)
	st := newStores()
	run := &stepRun{exec: e, stores: st}

	for _, s := range w.Steps {
		if err := run.execute(ctx, s, root); err != nil {
			return Result{}, err
		}
	}

	defs := w.OutputDefinitions
	if len(defs) == 0 {
		defs = e.autoDeriveDefinitions(w)
	}
	values, err := projectOutputs(w.OutputMappings, defs, root, mrn, csn)
	if err != nil {
		return Result{}, err
	}
	return Result{MRN: mrn, CSN: csn, OutputDefinitions: defs, OutputValues: values}, nil
}

// autoDeriveDefinitions implements spec §4 step 7: absent explicit
// output_definitions, derive one per compute-role ToolStep. Reader/writer
// steps are excluded: they stage or persist data for later steps rather
// than producing a result worth surfacing on their own.
func (e *Executor) autoDeriveDefinitions(w workflow.Workflow) []workflow.OutputDefinition {
	var defs []workflow.OutputDefinition
	w.Walk(func(s workflow.Step) {
		ts, ok := s.(workflow.ToolStep)
		if !ok {
			return
		}
		tool, err := e.catalog.Get(ts.Tool)
		if err != nil || tool.Role != catalog.RoleCompute {
			return
		}
		defs = append(defs, workflow.OutputDefinition{
			ID:       "out_" + ts.ID,
			Name:     ts.ID,
			Label:    ts.StepSummary,
			ToolName: ts.Tool,
		})
	})
	return defs
}

func projectOutputs(mappings []workflow.OutputMapping, defs []workflow.OutputDefinition, root *Scope, mrn, csn string) ([]OutputValue, error) {
	values := make([]OutputValue, 0, len(mappings))
	for _, m := range mappings {
		v, ok := root.Lookup(m.SourceVariable)
		if !ok {
			return nil, toolerrors.Errorf("output mapping references undefined variable %q", m.SourceVariable)
		}
		var resourceID string
		if m.ResourceIDVariable != "" {
			if rv, ok := root.Lookup(m.ResourceIDVariable); ok {
				resourceID = fmt.Sprintf("%v", rv)
			}
		}
		values = append(values, OutputValue{
			ID:                 m.OutputDefinitionID,
			OutputDefinitionID: m.OutputDefinitionID,
			ResourceID:         resourceID,
			Values:             v,
			Metadata:           map[string]any{"patient_id": mrn, "encounter_id": csn},
		})
	}
	return values, nil
}

// stepRun threads the executor's capabilities through the recursive step
// dispatch without re-plumbing them as parameters at every call site.
type stepRun struct {
	exec   *Executor
	stores *stores
}

func (r *stepRun) execute(ctx context.Context, s workflow.Step, scope *Scope) error {
	switch v := s.(type) {
	case workflow.ToolStep:
		return r.executeTool(ctx, v, scope)
	case workflow.LoopStep:
		return r.executeLoop(ctx, v, scope)
	case workflow.IfStep:
		return r.executeIf(ctx, v, scope)
	case workflow.FlagVariableStep:
		scope.Set(v.Variable, v.Value)
		return nil
	default:
		return toolerrors.Errorf("exec: unknown step type %T", s)
	}
}

func (r *stepRun) executeTool(ctx context.Context, s workflow.ToolStep, scope *Scope) error {
	rendered := make(map[string]any, len(s.Inputs))
	for k, v := range s.Inputs {
		rv, err := Render(s.ID, v, scope)
		if err != nil {
			return toolerrors.WrapStep(s.ID, err)
		}
		rendered[k] = rv
	}

	tool, err := r.exec.catalog.Get(s.Tool)
	if err != nil {
		return toolerrors.WrapStep(s.ID, err)
	}

	out, meta, err := r.exec.catalog.Invoke(ctx, s.Tool, rendered, catalog.EnvData{
		Record: r.exec.record,
		LLM:    r.exec.llm,
		MRN:    mustString(scope, "mrn"),
		CSN:    mustString(scope, "csn"),
	})
	r.exec.cost.Add(meta)
	if err != nil {
		return toolerrors.WrapStep(s.ID, err)
	}

	if tool.Role == catalog.RoleWriter {
		op, ok := out.(catalog.StoreOp)
		if !ok {
			return toolerrors.WrapStep(s.ID, toolerrors.Errorf("writer tool %q did not produce a store op", s.Tool))
		}
		materialized, err := r.stores.Apply(s.ID, op)
		if err != nil {
			return toolerrors.WrapStep(s.ID, err)
		}
		out = materialized
	}

	if s.Output != "" {
		scope.Set(s.Output, out)
	}
	return nil
}

// toAnySlice accepts both []any (the common case, produced by templates and
// JSON-sourced data) and any other concrete slice type a reader tool might
// return (e.g. []record.Diagnosis), normalizing both to []any for iteration.
func toAnySlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func mustString(scope *Scope, name string) string {
	v, _ := scope.Lookup(name)
	s, _ := v.(string)
	return s
}

func (r *stepRun) executeLoop(ctx context.Context, s workflow.LoopStep, scope *Scope) error {
	inVal, err := Render(s.ID, "{{"+s.In+"}}", scope)
	if err != nil {
		return toolerrors.WrapStep(s.ID, err)
	}
	items, ok := toAnySlice(inVal)
	if !ok {
		return toolerrors.WrapStep(s.ID, toolerrors.Errorf("LoopStep.in %q did not evaluate to a list", s.In))
	}

	var outputDict map[string]any
	if s.OutputDict != nil {
		outputDict = make(map[string]any, len(items))
	}

	for _, item := range items {
		iterScope := scope.Push(map[string]any{s.For: item})
		for _, body := range s.Body {
			if err := r.execute(ctx, body, iterScope); err != nil {
				return err
			}
		}
		if outputDict != nil {
			key := stringify(item)
			outputDict[key] = snapshotVars(iterScope)
		}
	}
	if s.OutputDict != nil {
		scope.Set(*s.OutputDict, outputDict)
	}
	return nil
}

// snapshotVars captures the bindings an iteration scope accumulated, used to
// populate a LoopStep's output_dict.
func snapshotVars(scope *Scope) map[string]any {
	out := make(map[string]any, len(scope.vars))
	for k, v := range scope.vars {
		out[k] = v
	}
	return out
}

func (r *stepRun) executeIf(ctx context.Context, s workflow.IfStep, scope *Scope) error {
	ok, err := EvalCondition(s.ID, s.Condition, scope)
	if err != nil {
		return toolerrors.WrapStep(s.ID, err)
	}
	branch := s.Otherwise
	if ok {
		branch = s.Then
	}
	for _, body := range branch {
		if err := r.execute(ctx, body, scope); err != nil {
			return err
		}
	}
	return nil
}
