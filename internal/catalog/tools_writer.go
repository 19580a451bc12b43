package catalog

import (
	"context"
	"encoding/json"

	"github.com/clinicflow/workflow-engine/internal/llm"
)

// StoreOp is a writer tool's output: a declaration of intent against the
// executor-owned variable store (spec §4.2.3). The catalog never mutates a
// store itself; tools_writer.go only describes the four writer tools' shapes
// and validates their inputs. internal/exec interprets StoreOp against the
// scope stack actually running the step.
type StoreOp struct {
	Op       string `json:"op"`
	Store    string `json:"store"`
	Kind     string `json:"kind,omitempty"`
	Value    any    `json:"value,omitempty"`
	Key      string `json:"key,omitempty"`
	Template string `json:"template,omitempty"`
}

const (
	OpInitStore   = "init_store"
	OpStoreAppend = "store_append"
	OpStoreRead   = "store_read"
	OpBuildText   = "build_text"
)

// WriterTools returns the four store-mutation tools. Their handlers are
// trivial pass-throughs: they package a StoreOp for the executor to apply,
// since only the executor holds the live variable scope.
func WriterTools() []Tool {
	return []Tool{
		initStoreTool(),
		storeAppendTool(),
		storeReadTool(),
		buildTextTool(),
	}
}

func initStoreTool() Tool {
	return Tool{
		Name:        OpInitStore,
		Role:        RoleWriter,
		Category:    "store",
		Description: "Declare a new named collection in the current scope's variable store.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"store":{"type":"string"},"type":{"type":"string","enum":["list","text","dict"]}},"required":["store","type"],"additionalProperties":false}`),
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			name, _ := inputs["store"].(string)
			kind, _ := inputs["type"].(string)
			return StoreOp{Op: OpInitStore, Store: name, Kind: kind}, llm.CallMeta{}, nil
		},
	}
}

func storeAppendTool() Tool {
	return Tool{
		Name:        OpStoreAppend,
		Role:        RoleWriter,
		Category:    "store",
		Description: "Append a value to a named store collection.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"store":{"type":"string"},"value":{},"key":{"type":"string"},"separator":{"type":"string"}},"required":["store","value"],"additionalProperties":false}`),
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			name, _ := inputs["store"].(string)
			key, _ := inputs["key"].(string)
			return StoreOp{Op: OpStoreAppend, Store: name, Value: inputs["value"], Key: key}, llm.CallMeta{}, nil
		},
	}
}

func storeReadTool() Tool {
	return Tool{
		Name:        OpStoreRead,
		Role:        RoleWriter,
		Category:    "store",
		Description: "Read the current contents of a named store collection.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"store":{"type":"string"}},"required":["store"],"additionalProperties":false}`),
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			name, _ := inputs["store"].(string)
			return StoreOp{Op: OpStoreRead, Store: name}, llm.CallMeta{}, nil
		},
	}
}

func buildTextTool() Tool {
	return Tool{
		Name:        OpBuildText,
		Role:        RoleWriter,
		Category:    "store",
		Description: "Render a template against a named store collection, producing a single text block.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"store":{"type":"string"},"template":{"type":"string"}},"required":["store","template"],"additionalProperties":false}`),
		Handler: func(ctx context.Context, inputs map[string]any, env EnvData) (any, llm.CallMeta, error) {
			name, _ := inputs["store"].(string)
			tmpl, _ := inputs["template"].(string)
			return StoreOp{Op: OpBuildText, Store: name, Template: tmpl}, llm.CallMeta{}, nil
		},
	}
}
