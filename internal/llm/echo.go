package llm

import (
	"context"
	"encoding/json"
)

// EchoClient is the deterministic, offline Client used when no provider is
// configured: structured calls echo back minimal valid JSON for the schemas
// the catalog's compute tools request, so a workflow can be dry-run without
// a provider API key.
type EchoClient struct{}

func (EchoClient) Call(ctx context.Context, req CallRequest) (CallResponse, error) {
	return CallResponse{Text: "(offline run: no provider configured)", Meta: CallMeta{Provider: "echo", Model: "echo-1"}}, nil
}

func (EchoClient) StructuredCall(ctx context.Context, req StructuredRequest) (StructuredResponse, error) {
	body := json.RawMessage(`{"answer":"unknown","span":"","reason":"offline run: no provider configured","matches":false}`)
	return StructuredResponse{JSON: body, Meta: CallMeta{Provider: "echo", Model: "echo-1"}}, nil
}

func (EchoClient) ToolCall(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error) {
	return ToolCallResponse{}, nil
}
