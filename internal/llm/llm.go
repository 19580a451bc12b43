// Package llm defines the unified LLM Client capability (component B) the
// rest of the system consumes: a single call/structured-call/tool-call
// interface over multiple providers, with cost accounting. Provider SDKs are
// wired in provider-specific files (anthropic.go, openai.go, bedrock.go);
// callers only ever see the Client interface.
package llm

import (
	"context"
	"encoding/json"
)

type (
	// Message is a single turn in a conversation passed to the model.
	Message struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}

	// Role enumerates conversation participants.
	Role string

	// Usage reports token counts for a single call, used for cost accounting.
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}

	// CallMeta is returned alongside every LLM invocation so callers (agents,
	// the tool catalog) can attribute cost/tokens to the running totals the
	// orchestrator and executor accumulate. Zero-valued for non-LLM tools.
	CallMeta struct {
		Provider string  `json:"provider"`
		Model    string  `json:"model"`
		Usage    Usage   `json:"usage"`
		CostUSD  float64 `json:"cost_usd"`
	}

	// CallRequest is a plain text completion request.
	CallRequest struct {
		Model       string
		System      string
		Messages    []Message
		MaxTokens   int
		Temperature float64
	}

	// CallResponse is the result of a plain text completion.
	CallResponse struct {
		Text string
		Meta CallMeta
	}

	// StructuredRequest asks the model to produce output conforming to Schema,
	// the JSON Schema describing the desired shape (used by agents that need a
	// typed result, e.g. OrchestratorDecision, Summarizer.summary).
	StructuredRequest struct {
		Model       string
		System      string
		Messages    []Message
		Schema      json.RawMessage
		SchemaName  string
		MaxTokens   int
		Temperature float64
	}

	// StructuredResponse carries the raw JSON payload conforming to the
	// requested schema plus call accounting.
	StructuredResponse struct {
		JSON json.RawMessage
		Meta CallMeta
	}

	// ToolDef describes a tool the model may choose to call during a
	// ToolCallRequest. It is independent of the Tool Catalog's ToolInfo and
	// of agents.ToolSpec; nothing in this module converts between them.
	ToolDef struct {
		Name        string
		Description string
		InputSchema json.RawMessage
	}

	// ToolCallRequest asks the model to either respond with text or invoke one
	// of Tools.
	ToolCallRequest struct {
		Model       string
		System      string
		Messages    []Message
		Tools       []ToolDef
		MaxTokens   int
		Temperature float64
	}

	// ToolInvocation is a single tool call chosen by the model.
	ToolInvocation struct {
		Name  string
		Input json.RawMessage
	}

	// ToolCallResponse carries either free text or one or more tool
	// invocations chosen by the model.
	ToolCallResponse struct {
		Text  string
		Calls []ToolInvocation
		Meta  CallMeta
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Client is the unified capability every agent and the tool catalog consume
// to reach a model provider. Implementations must be safe for concurrent use.
type Client interface {
	// Call performs a plain text completion.
	Call(ctx context.Context, req CallRequest) (CallResponse, error)

	// StructuredCall performs a completion constrained to a JSON schema.
	// Callers unmarshal StructuredResponse.JSON into their typed result.
	StructuredCall(ctx context.Context, req StructuredRequest) (StructuredResponse, error)

	// ToolCall performs a completion in which the model may invoke one of the
	// supplied tools instead of responding with text.
	ToolCall(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error)
}

// StructuredInto is a convenience wrapper that performs a StructuredCall and
// unmarshals the result into out.
func StructuredInto(ctx context.Context, c Client, req StructuredRequest, out any) (CallMeta, error) {
	resp, err := c.StructuredCall(ctx, req)
	if err != nil {
		return CallMeta{}, err
	}
	if err := json.Unmarshal(resp.JSON, out); err != nil {
		return resp.Meta, err
	}
	return resp.Meta, nil
}
