package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ragchat/internal/config"
)

// ErrGeneration 模型调用失败
var ErrGeneration = errors.New("answer generation failed")

// Turn 一轮历史消息
type Turn struct {
	Role    string
	Content string
}

// GenerateRequest 生成请求：系统提示 + 历史 + 当前问题（已拼接检索上下文）
type GenerateRequest struct {
	System      string
	History     []Turn
	Prompt      string
	Temperature float32
}

// Generator 大模型生成接口
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Provider() ProviderKind
}

// GeneratorFactory 根据模型配置取得生成器
type GeneratorFactory interface {
	For(ctx context.Context, model *AIModelConfig) (Generator, error)
}

// ProviderFactory 按提供方创建生成器，同一配置复用客户端
type ProviderFactory struct {
	cfg   config.AIConfig
	mu    sync.Mutex
	cache map[string]Generator
}

// NewProviderFactory 创建生成器工厂
func NewProviderFactory(cfg config.AIConfig) *ProviderFactory {
	return &ProviderFactory{cfg: cfg, cache: make(map[string]Generator)}
}

// DefaultModel 数据库中没有激活模型时使用的配置
func (f *ProviderFactory) DefaultModel() *AIModelConfig {
	kind, err := ParseProviderKind(f.cfg.Chat.DefaultProvider)
	if err != nil {
		kind = ProviderGemini
	}
	return &AIModelConfig{Name: "default", Provider: kind, Model: f.cfg.Chat.DefaultModel}
}

// For 返回模型对应的生成器
func (f *ProviderFactory) For(ctx context.Context, model *AIModelConfig) (Generator, error) {
	if model == nil {
		model = f.DefaultModel()
	}
	key := fmt.Sprintf("%s|%s|%s|%d", model.Provider, model.Model, model.BaseURL, model.UpdatedAt.UnixNano())

	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.cache[key]; ok {
		return g, nil
	}

	var (
		g   Generator
		err error
	)
	switch model.Provider {
	case ProviderGemini:
		g, err = NewGeminiGenerator(ctx, GeminiOptions{
			ProjectID: f.cfg.Gemini.ProjectID,
			Location:  f.cfg.Gemini.Location,
			Model:     model.Model,
		})
	case ProviderGrok:
		apiKey := model.APIKey
		if apiKey == "" {
			apiKey = f.cfg.Grok.APIKey
		}
		baseURL := model.BaseURL
		if baseURL == "" {
			baseURL = f.cfg.Grok.BaseURL
		}
		g, err = NewGrokGenerator(GrokOptions{APIKey: apiKey, BaseURL: baseURL, Model: model.Model})
	default:
		err = fmt.Errorf("unknown model provider %q", model.Provider)
	}
	if err != nil {
		return nil, err
	}
	f.cache[key] = g
	return g, nil
}
