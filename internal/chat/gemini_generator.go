package chat

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// GeminiOptions Vertex AI Gemini 配置
type GeminiOptions struct {
	ProjectID string
	Location  string
	Model     string
}

// GeminiGenerator 基于 Vertex AI 的 Gemini 生成器
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator 创建 Gemini 生成器，凭据走 ADC
func NewGeminiGenerator(ctx context.Context, opts GeminiOptions) (*GeminiGenerator, error) {
	if opts.ProjectID == "" || opts.Location == "" {
		return nil, fmt.Errorf("gemini: projectID and location cannot be empty")
	}
	model := opts.Model
	if model == "" {
		model = "gemini-1.5-pro"
	}
	client, err := genai.NewClient(ctx, opts.ProjectID, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// Provider 提供方
func (g *GeminiGenerator) Provider() ProviderKind { return ProviderGemini }

// Generate 历史消息作为 ChatSession 历史，当前问题单独发送
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	m := g.client.GenerativeModel(g.model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature > 0 {
		m.SetTemperature(req.Temperature)
	}

	session := m.StartChat()
	session.History = geminiHistory(req.History)
	resp, err := session.SendMessage(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %v", ErrGeneration, err)
	}
	text := geminiText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned no text", ErrGeneration)
	}
	return text, nil
}

// Close 关闭底层客户端
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// geminiHistory Gemini 中助手角色名为 model
func geminiHistory(turns []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return out
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}
