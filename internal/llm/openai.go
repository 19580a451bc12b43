// Package llm: OpenAI adapter, backed by github.com/openai/openai-go.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, mirroring the Anthropic adapter's MessagesClient seam.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// OpenAIOptions configures the OpenAI-backed client.
type OpenAIOptions struct {
	DefaultModel string
	Prices       PriceTable
}

// OpenAIClient implements Client via OpenAI Chat Completions.
type OpenAIClient struct {
	chat   ChatClient
	model  string
	prices PriceTable
}

// NewOpenAIClient builds a Client from an OpenAI chat completions client.
func NewOpenAIClient(chat ChatClient, opts OpenAIOptions) (*OpenAIClient, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("default model is required")
	}
	prices := opts.Prices
	if prices == nil {
		prices = DefaultPrices()
	}
	return &OpenAIClient{chat: chat, model: opts.DefaultModel, prices: prices}, nil
}

func (c *OpenAIClient) modelOrDefault(model string) string {
	if model == "" {
		return c.model
	}
	return model
}

func (c *OpenAIClient) meta(model string, resp *openai.ChatCompletion) CallMeta {
	usage := Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	return CallMeta{Provider: "openai", Model: model, Usage: usage, CostUSD: c.prices.Cost(model, usage)}
}

func toOpenAIMessages(system string, msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		}
	}
	return out
}

func (c *OpenAIClient) Call(ctx context.Context, req CallRequest) (CallResponse, error) {
	body := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.modelOrDefault(req.Model)),
		Messages: toOpenAIMessages(req.System, req.Messages),
	}
	resp, err := c.chat.New(ctx, body)
	if err != nil {
		return CallResponse{}, err
	}
	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return CallResponse{Text: text, Meta: c.meta(string(body.Model), resp)}, nil
}

func (c *OpenAIClient) StructuredCall(ctx context.Context, req StructuredRequest) (StructuredResponse, error) {
	system := req.System
	if system != "" {
		system += "\n\n"
	}
	system += "Respond with a single JSON object only, matching this schema: " + string(req.Schema)
	body := openai.ChatCompletionNewParams{
		Model:          shared.ChatModel(c.modelOrDefault(req.Model)),
		Messages:       toOpenAIMessages(system, req.Messages),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &shared.ResponseFormatJSONObjectParam{}},
	}
	resp, err := c.chat.New(ctx, body)
	if err != nil {
		return StructuredResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return StructuredResponse{}, errors.New("llm: openai returned no choices")
	}
	text := resp.Choices[0].Message.Content
	if !json.Valid([]byte(text)) {
		return StructuredResponse{}, errors.New("llm: structured response was not valid json")
	}
	return StructuredResponse{JSON: json.RawMessage(text), Meta: c.meta(string(body.Model), resp)}, nil
}

func (c *OpenAIClient) ToolCall(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error) {
	tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		var params map[string]any
		_ = json.Unmarshal(t.InputSchema, &params)
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		})
	}
	body := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.modelOrDefault(req.Model)),
		Messages: toOpenAIMessages(req.System, req.Messages),
		Tools:    tools,
	}
	resp, err := c.chat.New(ctx, body)
	if err != nil {
		return ToolCallResponse{}, err
	}
	out := ToolCallResponse{Meta: c.meta(string(body.Model), resp)}
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		out.Text = msg.Content
		for _, call := range msg.ToolCalls {
			out.Calls = append(out.Calls, ToolInvocation{
				Name:  call.Function.Name,
				Input: json.RawMessage(call.Function.Arguments),
			})
		}
	}
	return out, nil
}
