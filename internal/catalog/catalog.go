// Package catalog implements the Tool Catalog (component C): a registry of
// named, schema-described operations the workflow executor invokes uniformly,
// whether they read from the record store, derive values (often via an LLM),
// or mutate the executor-owned variable store.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/clinicflow/workflow-engine/internal/llm"
	"github.com/clinicflow/workflow-engine/internal/record"
	"github.com/clinicflow/workflow-engine/internal/toolerrors"
)

type (
	// Role classifies what a tool is allowed to do (spec §3 Tool).
	Role string

	// DataItemEvent maps a tool invocation's arguments to a frontend-visible
	// object, per spec §4.1's "data-item event" mapping. Purely observational:
	// nothing in the executor depends on it.
	DataItemEvent struct {
		ResourceType string `json:"resource_type"`
		ResourceID   string `json:"resource_id"`
		Status       string `json:"status"`
	}

	// EnvData is the capability bundle passed to every tool Handler: read
	// access to the patient record, the unified LLM client, and the patient
	// context for the current execution.
	EnvData struct {
		Record record.Store
		LLM    llm.Client
		MRN    string
		CSN    string
	}

	// Handler implements a tool's behavior. It returns the raw output value to
	// bind to the step's declared output variable, plus LLM call accounting
	// (zero-valued for non-LLM tools).
	Handler func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error)

	// Tool is the immutable value type describing one catalog entry (spec §3).
	Tool struct {
		Name              string
		Role              Role
		Category          string
		Description       string
		InputSchema       json.RawMessage
		OutputSchema      json.RawMessage
		UsesLLM           bool
		DataItemExtractor func(inputs map[string]any) (DataItemEvent, bool)
		Handler           Handler

		compiled *jsonschema.Schema
	}
)

const (
	RoleReader  Role = "reader"
	RoleCompute Role = "compute"
	RoleWriter  Role = "writer"
)

// Catalog is the closed set of tools available to agents and the executor.
// It is built once at process start via New and is safe for concurrent use
// (read-only after construction).
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// New compiles and registers the given tools, returning ValidationError-style
// failures for malformed schemas rather than panicking.
func New(tools ...Tool) (*Catalog, error) {
	c := &Catalog{tools: make(map[string]*Tool, len(tools))}
	for i := range tools {
		t := tools[i]
		if err := c.register(&t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("catalog: tool name is required")
	}
	if len(t.InputSchema) > 0 {
		compiled, err := compileSchema("mem://catalog/"+t.Name+"/input", t.InputSchema)
		if err != nil {
			return fmt.Errorf("catalog: compiling input schema for %q: %w", t.Name, err)
		}
		t.compiled = compiled
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[t.Name]; exists {
		return fmt.Errorf("catalog: duplicate tool %q", t.Name)
	}
	c.tools[t.Name] = t
	c.order = append(c.order, t.Name)
	return nil
}

func compileSchema(uri string, schema json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(uri, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(uri)
}

// ToolInfo is the read-only projection returned by List, matching spec
// §4.1's `list()` contract.
type ToolInfo struct {
	Name         string
	Category     string
	Role         Role
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	UsesLLM      bool
}

// List returns every registered tool's descriptive metadata, in registration
// order, so planning agents always see the catalog presented the same way.
func (c *Catalog) List() []ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolInfo, 0, len(c.tools))
	for _, name := range c.order {
		t := c.tools[name]
		out = append(out, ToolInfo{
			Name: t.Name, Category: t.Category, Role: t.Role, Description: t.Description,
			InputSchema: t.InputSchema, OutputSchema: t.OutputSchema, UsesLLM: t.UsesLLM,
		})
	}
	return out
}

// Get returns the tool handle for name, or toolerrors.ErrUnknownTool.
func (c *Catalog) Get(name string) (*Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", toolerrors.ErrUnknownTool, name)
	}
	return t, nil
}

// Invoke validates inputs against the tool's input schema, runs its handler,
// and returns the raw output plus call accounting metadata (spec §4.1).
func (c *Catalog) Invoke(ctx context.Context, name string, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
	t, err := c.Get(name)
	if err != nil {
		return nil, llm.CallMeta{}, err
	}
	if t.compiled != nil {
		if err := t.compiled.Validate(inputs); err != nil {
			return nil, llm.CallMeta{}, &toolerrors.ValidationError{Tool: name, Issues: []string{err.Error()}}
		}
	}
	if t.Handler == nil {
		return nil, llm.CallMeta{}, toolerrors.Errorf("catalog: tool %q has no handler", name)
	}
	out, meta, err := t.Handler(ctx, inputs, env)
	if err != nil {
		return nil, meta, toolerrors.NewWithCause(fmt.Sprintf("tool %q failed", name), err)
	}
	return out, meta, nil
}

// DataItem returns the observability mapping for a tool call, if the tool
// declares one.
func (c *Catalog) DataItem(name string, inputs map[string]any) (DataItemEvent, bool) {
	t, err := c.Get(name)
	if err != nil || t.DataItemExtractor == nil {
		return DataItemEvent{}, false
	}
	return t.DataItemExtractor(inputs)
}
