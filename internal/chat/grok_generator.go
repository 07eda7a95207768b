package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultGrokBaseURL = "https://api.x.ai/v1"

// GrokOptions xAI Grok 配置
type GrokOptions struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GrokGenerator xAI 接口兼容 OpenAI 格式
type GrokGenerator struct {
	client *openai.Client
	model  string
}

// NewGrokGenerator 创建 Grok 生成器
func NewGrokGenerator(opts GrokOptions) (*GrokGenerator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("grok API key 不能为空")
	}
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGrokBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "grok-2"
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = baseURL
	return &GrokGenerator{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Provider 提供方
func (g *GrokGenerator) Provider() ProviderKind { return ProviderGrok }

// Generate 对话补全（非流式）
func (g *GrokGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, t := range req.History {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: grok: %v", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: grok returned no choices", ErrGeneration)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
