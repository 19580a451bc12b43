// Package llm: Anthropic adapter. Translates the unified Client interface
// into calls against the Anthropic Messages API using
// github.com/anthropics/anthropic-sdk-go.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so tests can substitute a fake without a live API key.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicOptions configures the Anthropic-backed client.
type AnthropicOptions struct {
	DefaultModel string
	MaxTokens    int64
	Prices       PriceTable
}

// AnthropicClient implements Client on top of Anthropic Claude Messages.
type AnthropicClient struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int64
	prices       PriceTable
}

// NewAnthropicClient builds a Client from an Anthropic Messages client.
func NewAnthropicClient(msg MessagesClient, opts AnthropicOptions) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("default model is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	prices := opts.Prices
	if prices == nil {
		prices = DefaultPrices()
	}
	return &AnthropicClient{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTok, prices: prices}, nil
}

// DefaultModel reports the model used when a request does not name one.
func (c *AnthropicClient) DefaultModel() string { return c.defaultModel }

func (c *AnthropicClient) meta(model string, u sdk.Usage) CallMeta {
	usage := Usage{InputTokens: int(u.InputTokens), OutputTokens: int(u.OutputTokens)}
	return CallMeta{
		Provider: "anthropic",
		Model:    model,
		Usage:    usage,
		CostUSD:  c.prices.Cost(model, usage),
	}
}

func (c *AnthropicClient) modelOrDefault(model string) string {
	if model == "" {
		return c.defaultModel
	}
	return model
}

func (c *AnthropicClient) Call(ctx context.Context, req CallRequest) (CallResponse, error) {
	body := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelOrDefault(req.Model)),
		MaxTokens: maxTokensOr(req.MaxTokens, c.maxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		body.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	resp, err := c.msg.New(ctx, body)
	if err != nil {
		return CallResponse{}, err
	}
	return CallResponse{Text: extractAnthropicText(resp), Meta: c.meta(string(body.Model), resp.Usage)}, nil
}

func (c *AnthropicClient) StructuredCall(ctx context.Context, req StructuredRequest) (StructuredResponse, error) {
	system := req.System
	if system != "" {
		system += "\n\n"
	}
	system += "Respond with a single JSON object only, matching this schema: " + string(req.Schema)
	body := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelOrDefault(req.Model)),
		MaxTokens: maxTokensOr(req.MaxTokens, c.maxTokens),
		Messages:  toAnthropicMessages(req.Messages),
		System:    []sdk.TextBlockParam{{Text: system}},
	}
	resp, err := c.msg.New(ctx, body)
	if err != nil {
		return StructuredResponse{}, err
	}
	text := extractAnthropicText(resp)
	if !json.Valid([]byte(text)) {
		return StructuredResponse{}, errors.New("llm: structured response was not valid json")
	}
	return StructuredResponse{JSON: json.RawMessage(text), Meta: c.meta(string(body.Model), resp.Usage)}, nil
}

func (c *AnthropicClient) ToolCall(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error) {
	tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		var schema sdk.ToolInputSchemaParam
		_ = json.Unmarshal(t.InputSchema, &schema)
		tools = append(tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{Name: t.Name, Description: sdk.String(t.Description), InputSchema: schema},
		})
	}
	body := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelOrDefault(req.Model)),
		MaxTokens: maxTokensOr(req.MaxTokens, c.maxTokens),
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     tools,
	}
	if req.System != "" {
		body.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	resp, err := c.msg.New(ctx, body)
	if err != nil {
		return ToolCallResponse{}, err
	}
	out := ToolCallResponse{Text: extractAnthropicText(resp), Meta: c.meta(string(body.Model), resp.Usage)}
	for _, block := range resp.Content {
		if tu := block.AsToolUse(); tu.ID != "" {
			out.Calls = append(out.Calls, ToolInvocation{Name: tu.Name, Input: tu.Input})
		}
	}
	return out, nil
}

func toAnthropicMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			// System messages are carried separately; skip here.
		}
	}
	return out
}

func extractAnthropicText(msg *sdk.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

func maxTokensOr(requested int, fallback int64) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return fallback
}
