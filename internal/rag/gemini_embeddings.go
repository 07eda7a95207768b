package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "text-embedding-004"
	// 单次 batchEmbedContents 最多 100 条
	geminiMaxBatch = 100
)

// GeminiEmbeddingOptions Gemini 向量化配置
type GeminiEmbeddingOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	Dimension      int
	RequestsPerSec float64
	Burst          int
	HTTPClient     *http.Client
}

// GeminiEmbeddingProvider 通过 Generative Language REST API 生成向量
type GeminiEmbeddingProvider struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
	limiter   *rate.Limiter
}

// NewGeminiEmbeddingProvider 创建 Gemini 向量化提供者
func NewGeminiEmbeddingProvider(opts GeminiEmbeddingOptions) (*GeminiEmbeddingProvider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key 不能为空")
	}
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := strings.TrimPrefix(opts.Model, "models/")
	if model == "" {
		model = defaultGeminiModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &GeminiEmbeddingProvider{
		client:    client,
		baseURL:   baseURL,
		apiKey:    opts.APIKey,
		model:     model,
		dimension: opts.Dimension,
		limiter:   rate.NewLimiter(limit, burst),
	}, nil
}

// Embed 单条文本向量化
func (p *GeminiEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 按 100 条一批调用 batchEmbedContents，结果顺序与输入一致
func (p *GeminiEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += geminiMaxBatch {
		end := min(i+geminiMaxBatch, len(texts))
		vectors, err := p.embedChunk(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	if err := checkBatch(p.GetProviderName(), texts, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *GeminiEmbeddingProvider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, EmbeddingError(p.GetProviderName(), err)
	}

	modelPath := "models/" + p.model
	req := geminiBatchRequest{Requests: make([]geminiEmbedRequest, len(texts))}
	for i, text := range texts {
		req.Requests[i] = geminiEmbedRequest{
			Model:   modelPath,
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		}
		if p.dimension > 0 {
			req.Requests[i].OutputDimensionality = p.dimension
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, EmbeddingError(p.GetProviderName(), err)
	}

	url := fmt.Sprintf("%s/%s:batchEmbedContents", p.baseURL, modelPath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, EmbeddingError(p.GetProviderName(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, EmbeddingError(p.GetProviderName(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, EmbeddingError(p.GetProviderName(), err)
	}
	if resp.StatusCode >= 400 {
		var apiErr geminiErrorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, EmbeddingError(p.GetProviderName(), fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg))
	}

	var parsed geminiBatchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, EmbeddingError(p.GetProviderName(), fmt.Errorf("解析响应失败: %w", err))
	}
	vectors := make([][]float32, len(parsed.Embeddings))
	for i, e := range parsed.Embeddings {
		vectors[i] = e.Values
	}
	if len(vectors) != len(texts) {
		return nil, EmbeddingError(p.GetProviderName(), fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
	}
	return vectors, nil
}

// GetModel 当前模型
func (p *GeminiEmbeddingProvider) GetModel() string { return p.model }

// GetProviderName 提供商名称
func (p *GeminiEmbeddingProvider) GetProviderName() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model                string        `json:"model"`
	Content              geminiContent `json:"content"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type geminiBatchRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiBatchResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
