package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EmbeddingCache 向量缓存，键为 模型 + 文本哈希
type EmbeddingCache interface {
	GetMany(ctx context.Context, model string, texts []string) (map[string][]float32, error)
	SetMany(ctx context.Context, model string, texts []string, vectors [][]float32) error
}

// RedisEmbeddingCache 基于 Redis 的向量缓存
type RedisEmbeddingCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisEmbeddingCache 创建 Redis 向量缓存
func NewRedisEmbeddingCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisEmbeddingCache {
	if prefix == "" {
		prefix = "emb:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisEmbeddingCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// GetMany MGET 批量读取，未命中的文本不出现在结果中
func (c *RedisEmbeddingCache) GetMany(ctx context.Context, model string, texts []string) (map[string][]float32, error) {
	hits := make(map[string][]float32, len(texts))
	if len(texts) == 0 {
		return hits, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(model, t)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return hits, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var vec []float32
		if json.Unmarshal([]byte(s), &vec) == nil && len(vec) > 0 {
			hits[texts[i]] = vec
		}
	}
	return hits, nil
}

// SetMany pipeline 批量写入
func (c *RedisEmbeddingCache) SetMany(ctx context.Context, model string, texts []string, vectors [][]float32) error {
	pipe := c.rdb.Pipeline()
	for i, t := range texts {
		data, err := json.Marshal(vectors[i])
		if err != nil {
			return err
		}
		pipe.Set(ctx, c.key(model, t), data, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisEmbeddingCache) key(model, text string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(hash[:16])
}

// CachedEmbeddingProvider 带缓存的 Embedding 提供者包装器
// 缓存读写失败只记日志，不影响向量化结果
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    EmbeddingCache
	logger   *zap.Logger
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding 提供者
func NewCachedEmbeddingProvider(provider EmbeddingProvider, cache EmbeddingCache, logger *zap.Logger) *CachedEmbeddingProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbeddingProvider{provider: provider, cache: cache, logger: logger}
}

// Embed 单条向量化 (带缓存)
func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 只对未命中的去重文本调用底层提供者，结果按输入顺序返回
func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	model := p.provider.GetModel()

	cached, err := p.cache.GetMany(ctx, model, texts)
	if err != nil {
		p.logger.Warn("读取向量缓存失败", zap.Error(err))
		cached = map[string][]float32{}
	}

	var missing []string
	seen := make(map[string]struct{})
	for _, t := range texts {
		if _, ok := cached[t]; ok {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		missing = append(missing, t)
	}

	if len(missing) > 0 {
		vectors, err := p.provider.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		if err := checkBatch(p.provider.GetProviderName(), missing, vectors); err != nil {
			return nil, err
		}
		for i, t := range missing {
			cached[t] = vectors[i]
		}
		if err := p.cache.SetMany(ctx, model, missing, vectors); err != nil {
			p.logger.Warn("写入向量缓存失败", zap.Error(err))
		}
	}

	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = cached[t]
	}
	return result, nil
}

// GetModel 获取模型名称
func (p *CachedEmbeddingProvider) GetModel() string { return p.provider.GetModel() }

// GetProviderName 获取提供者名称
func (p *CachedEmbeddingProvider) GetProviderName() string { return p.provider.GetProviderName() }
