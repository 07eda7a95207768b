package rag

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAI API 每次请求最多 2048 个输入
const openAIMaxBatch = 2048

// OpenAIEmbeddingOptions OpenAI 兼容向量化配置
type OpenAIEmbeddingOptions struct {
	APIKey    string
	BaseURL   string
	OrgID     string
	Model     string
	Dimension int
}

// OpenAIEmbeddingProvider OpenAI 兼容接口的向量化服务
type OpenAIEmbeddingProvider struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbeddingProvider 创建 OpenAI 向量化提供者
func NewOpenAIEmbeddingProvider(opts OpenAIEmbeddingOptions) *OpenAIEmbeddingProvider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.OrgID != "" {
		cfg.OrgID = opts.OrgID
	}
	model := opts.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbeddingProvider{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: opts.Dimension,
	}
}

// Embed 将文本转换为向量
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化文本，超过 2048 条时分批
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += openAIMaxBatch {
		end := min(i+openAIMaxBatch, len(texts))
		vectors, err := p.embedBatchInternal(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, vectors...)
	}
	if err := checkBatch(p.GetProviderName(), texts, all); err != nil {
		return nil, err
	}
	return all, nil
}

func (p *OpenAIEmbeddingProvider) embedBatchInternal(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dimension > 0 {
		req.Dimensions = p.dimension
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, EmbeddingError(p.GetProviderName(), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, EmbeddingError(p.GetProviderName(), fmt.Errorf("expected %d vectors, got %d", len(texts), len(resp.Data)))
	}

	// 按返回的 index 归位，不依赖响应顺序
	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, EmbeddingError(p.GetProviderName(), fmt.Errorf("embedding index %d out of range", data.Index))
		}
		embeddings[data.Index] = data.Embedding
	}
	return embeddings, nil
}

// GetModel 获取当前使用的模型
func (p *OpenAIEmbeddingProvider) GetModel() string { return p.model }

// GetProviderName 获取提供商名称
func (p *OpenAIEmbeddingProvider) GetProviderName() string { return "openai" }
