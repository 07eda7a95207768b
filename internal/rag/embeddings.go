package rag

import (
	"context"
	"fmt"
)

// EmbeddingProvider 抽象不同向量模型/服务的统一接口。
// EmbedBatch 保持输入顺序且长度一致；实现内部不做重试。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
	GetProviderName() string
}

// EmbeddingError 向量化服务错误
func EmbeddingError(provider string, cause error) *Error {
	return newError(ErrEmbedding, StageEmbedding, provider+" embedding call failed", cause)
}

// checkBatch 校验批量返回与输入一一对应
func checkBatch(provider string, texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return EmbeddingError(provider, fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return EmbeddingError(provider, fmt.Errorf("empty vector at position %d", i))
		}
	}
	return nil
}
