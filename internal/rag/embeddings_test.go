package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiEmbeddingProviderBatches(t *testing.T) {
	var (
		mu    sync.Mutex
		sizes []int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/text-embedding-004:batchEmbedContents", r.URL.Path)
		assert.Equal(t, "k-test", r.Header.Get("x-goog-api-key"))

		var req geminiBatchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		sizes = append(sizes, len(req.Requests))
		mu.Unlock()

		var resp strings.Builder
		resp.WriteString(`{"embeddings":[`)
		for i, item := range req.Requests {
			assert.Equal(t, 3, item.OutputDimensionality)
			if i > 0 {
				resp.WriteString(",")
			}
			fmt.Fprintf(&resp, `{"values":[%d,0,1]}`, len(item.Content.Parts[0].Text))
		}
		resp.WriteString(`]}`)
		_, _ = w.Write([]byte(resp.String()))
	}))
	defer server.Close()

	provider, err := NewGeminiEmbeddingProvider(GeminiEmbeddingOptions{
		APIKey:     "k-test",
		BaseURL:    server.URL,
		Dimension:  3,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	vectors, err := provider.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 150)
	assert.Equal(t, []int{100, 50}, sizes)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(150), vectors[149][0])
	assert.Equal(t, "gemini", provider.GetProviderName())
}

func TestGeminiEmbeddingProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	provider, err := NewGeminiEmbeddingProvider(GeminiEmbeddingOptions{APIKey: "k", BaseURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	_, err = provider.Embed(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmbedding)
	assert.Contains(t, DetailsOf(err), "quota exhausted")
}

func TestGeminiEmbeddingProviderRequiresKey(t *testing.T) {
	_, err := NewGeminiEmbeddingProvider(GeminiEmbeddingOptions{})
	require.Error(t, err)
}

func TestOpenAIEmbeddingProviderOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.Dimensions)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[
			{"object":"embedding","index":1,"embedding":[0.0,1.0]},
			{"object":"embedding","index":0,"embedding":[1.0,0.0]}
		]}`))
	}))
	defer server.Close()

	provider := NewOpenAIEmbeddingProvider(OpenAIEmbeddingOptions{
		APIKey:    "sk-test",
		BaseURL:   server.URL,
		Model:     "m",
		Dimension: 2,
	})
	vectors, err := provider.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])
}

func TestOpenAIEmbeddingProviderCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[1.0]}]}`))
	}))
	defer server.Close()

	provider := NewOpenAIEmbeddingProvider(OpenAIEmbeddingOptions{APIKey: "sk", BaseURL: server.URL})
	_, err := provider.EmbedBatch(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrEmbedding)
}

// countingProvider 记录底层调用的输入
type countingProvider struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (p *countingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]string(nil), texts...))
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (p *countingProvider) GetModel() string        { return "fake-model" }
func (p *countingProvider) GetProviderName() string { return "fake" }

// mapCache 进程内的 EmbeddingCache
type mapCache struct {
	data   map[string][]float32
	getErr error
}

func (c *mapCache) GetMany(_ context.Context, model string, texts []string) (map[string][]float32, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	hits := map[string][]float32{}
	for _, t := range texts {
		if v, ok := c.data[model+"|"+t]; ok {
			hits[t] = v
		}
	}
	return hits, nil
}

func (c *mapCache) SetMany(_ context.Context, model string, texts []string, vectors [][]float32) error {
	for i, t := range texts {
		c.data[model+"|"+t] = vectors[i]
	}
	return nil
}

func TestCachedEmbeddingProviderOnlyEmbedsMisses(t *testing.T) {
	inner := &countingProvider{}
	cache := &mapCache{data: map[string][]float32{"fake-model|cached": {9, 9}}}
	provider := NewCachedEmbeddingProvider(inner, cache, nil)

	vectors, err := provider.EmbedBatch(context.Background(), []string{"cached", "new", "new", "other"})
	require.NoError(t, err)
	require.Len(t, vectors, 4)
	assert.Equal(t, []float32{9, 9}, vectors[0])
	assert.Equal(t, []float32{3, 1}, vectors[1])
	assert.Equal(t, vectors[1], vectors[2])
	require.Len(t, inner.calls, 1)
	assert.Equal(t, []string{"new", "other"}, inner.calls[0])

	_, err = provider.EmbedBatch(context.Background(), []string{"new"})
	require.NoError(t, err)
	assert.Len(t, inner.calls, 1)
}

func TestCachedEmbeddingProviderIgnoresCacheErrors(t *testing.T) {
	inner := &countingProvider{}
	cache := &mapCache{data: map[string][]float32{}, getErr: assert.AnError}
	provider := NewCachedEmbeddingProvider(inner, cache, nil)

	v, err := provider.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, v)
}
