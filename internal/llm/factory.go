package llm

import (
	"context"
	"fmt"
	"os"

	sdk "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/clinicflow/workflow-engine/internal/config"
)

// NewFromConfig constructs the Client the configuration selects. Credentials
// come from each provider's standard environment variables (ANTHROPIC_API_KEY,
// OPENAI_API_KEY, AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY); an empty or echo
// provider yields the offline EchoClient.
func NewFromConfig(cfg config.Config) (Client, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		var opts []anthropicopt.RequestOption
		if cfg.LLM.MaxRetries > 0 {
			opts = append(opts, anthropicopt.WithMaxRetries(cfg.LLM.MaxRetries))
		}
		if cfg.LLM.Timeout > 0 {
			opts = append(opts, anthropicopt.WithRequestTimeout(cfg.LLM.Timeout))
		}
		cli := sdk.NewClient(opts...)
		return NewAnthropicClient(&cli.Messages, AnthropicOptions{DefaultModel: modelOr(cfg, "claude-sonnet-4-5")})

	case config.ProviderOpenAI:
		var opts []openaiopt.RequestOption
		if cfg.LLM.MaxRetries > 0 {
			opts = append(opts, openaiopt.WithMaxRetries(cfg.LLM.MaxRetries))
		}
		if cfg.LLM.Timeout > 0 {
			opts = append(opts, openaiopt.WithRequestTimeout(cfg.LLM.Timeout))
		}
		cli := openai.NewClient(opts...)
		return NewOpenAIClient(chatCompletions{svc: &cli.Chat.Completions}, OpenAIOptions{DefaultModel: modelOr(cfg, "gpt-4.1")})

	case config.ProviderBedrock:
		awsCfg := aws.Config{
			Region:      bedrockRegion(),
			Credentials: aws.CredentialsProviderFunc(envCredentials),
		}
		return NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), BedrockOptions{DefaultModel: modelOr(cfg, "bedrock-claude-3-7")})

	case config.ProviderEcho, "":
		return EchoClient{}, nil

	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func modelOr(cfg config.Config, fallback string) string {
	if cfg.LLM.Model != "" {
		return cfg.LLM.Model
	}
	return fallback
}

// chatCompletions narrows *openai.ChatCompletionService to the ChatClient
// seam the adapter validates against.
type chatCompletions struct {
	svc *openai.ChatCompletionService
}

func (c chatCompletions) New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.svc.New(ctx, body)
}

func bedrockRegion() string {
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r
	}
	if r := os.Getenv("AWS_DEFAULT_REGION"); r != "" {
		return r
	}
	return "us-east-1"
}

// envCredentials resolves AWS credentials from the standard environment
// variables. The full aws-sdk config loader is not pulled in for this one
// client; deployments that need role assumption or instance profiles route
// through Anthropic/OpenAI or inject credentials via the environment.
func envCredentials(ctx context.Context) (aws.Credentials, error) {
	id := os.Getenv("AWS_ACCESS_KEY_ID")
	if id == "" {
		return aws.Credentials{}, fmt.Errorf("llm: AWS_ACCESS_KEY_ID is not set")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}
