// Package llm: AWS Bedrock adapter, backed by
// github.com/aws/aws-sdk-go-v2/service/bedrockruntime. Used when a deployment
// routes its clinical LLM traffic through a VPC-local Bedrock endpoint rather
// than calling Anthropic/OpenAI directly.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// RuntimeClient mirrors the subset of the Bedrock runtime client the adapter
// needs, matching *bedrockruntime.Client so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions configures the Bedrock-backed client.
type BedrockOptions struct {
	DefaultModel string
	MaxTokens    int32
	Prices       PriceTable
}

// BedrockClient implements Client on top of the Bedrock Converse API.
type BedrockClient struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int32
	prices       PriceTable
}

// NewBedrockClient builds a Client from a Bedrock runtime client.
func NewBedrockClient(runtime RuntimeClient, opts BedrockOptions) (*BedrockClient, error) {
	if runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
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
	return &BedrockClient{runtime: runtime, defaultModel: opts.DefaultModel, maxTokens: maxTok, prices: prices}, nil
}

func (c *BedrockClient) modelOrDefault(model string) string {
	if model == "" {
		return c.defaultModel
	}
	return model
}

func (c *BedrockClient) meta(model string, u *brtypes.TokenUsage) CallMeta {
	var usage Usage
	if u != nil {
		usage = Usage{InputTokens: int(aws.ToInt32(u.InputTokens)), OutputTokens: int(aws.ToInt32(u.OutputTokens))}
	}
	return CallMeta{Provider: "bedrock", Model: model, Usage: usage, CostUSD: c.prices.Cost(model, usage)}
}

func toBedrockMessages(msgs []Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		var role brtypes.ConversationRole
		switch m.Role {
		case RoleUser:
			role = brtypes.ConversationRoleUser
		case RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			continue
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func (c *BedrockClient) Call(ctx context.Context, req CallRequest) (CallResponse, error) {
	model := c.modelOrDefault(req.Model)
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: toBedrockMessages(req.Messages),
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(maxTokensOr32(req.MaxTokens, c.maxTokens)),
		},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return CallResponse{}, err
	}
	return CallResponse{Text: extractBedrockText(out), Meta: c.meta(model, out.Usage)}, nil
}

func (c *BedrockClient) StructuredCall(ctx context.Context, req StructuredRequest) (StructuredResponse, error) {
	model := c.modelOrDefault(req.Model)
	system := req.System
	if system != "" {
		system += "\n\n"
	}
	system += "Respond with a single JSON object only, matching this schema: " + string(req.Schema)
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		Messages:        toBedrockMessages(req.Messages),
		System:          []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: system}},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(maxTokensOr32(req.MaxTokens, c.maxTokens))},
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return StructuredResponse{}, err
	}
	text := extractBedrockText(out)
	if !json.Valid([]byte(text)) {
		return StructuredResponse{}, errors.New("llm: structured response was not valid json")
	}
	return StructuredResponse{JSON: json.RawMessage(text), Meta: c.meta(model, out.Usage)}, nil
}

func (c *BedrockClient) ToolCall(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error) {
	model := c.modelOrDefault(req.Model)
	toolSpecs := make([]brtypes.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		var schemaDoc map[string]any
		_ = json.Unmarshal(t.InputSchema, &schemaDoc)
		toolSpecs = append(toolSpecs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		Messages:        toBedrockMessages(req.Messages),
		ToolConfig:      &brtypes.ToolConfiguration{Tools: toolSpecs},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(maxTokensOr32(req.MaxTokens, c.maxTokens))},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return ToolCallResponse{}, err
	}
	resp := ToolCallResponse{Text: extractBedrockText(out), Meta: c.meta(model, out.Usage)}
	if msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			if tu, ok := block.(*brtypes.ContentBlockMemberToolUse); ok {
				raw, _ := tu.Value.Input.MarshalSmithyDocument()
				resp.Calls = append(resp.Calls, ToolInvocation{Name: aws.ToString(tu.Value.Name), Input: raw})
			}
		}
	}
	return resp, nil
}

func extractBedrockText(out *bedrockruntime.ConverseOutput) string {
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range msgOut.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return sb.String()
}

func maxTokensOr32(requested int, fallback int32) int32 {
	if requested > 0 {
		return int32(requested)
	}
	return fallback
}
