package rag

import (
	"context"
	"errors"
	"strings"
	"time"

	"ragchat/internal/logger"
	"ragchat/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Retriever 问题向量化后在向量库中检索相似分块
type Retriever struct {
	embedder    EmbeddingProvider
	store       VectorStore
	defaultTopK int
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewRetriever 创建检索器，defaultTopK <= 0 时取 DefaultTopK
func NewRetriever(embedder EmbeddingProvider, store VectorStore, log *zap.Logger, defaultTopK int) *Retriever {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
		logger:      logger.OrNop(log).Named("retrieval"),
		tracer:      otel.Tracer(tracerName),
	}
}

// DefaultTopK 未指定 topK 时使用的条数
func (r *Retriever) DefaultTopK() int { return r.defaultTopK }

// Retrieve 返回按相似度降序的至多 topK 条分块；topK 为 0 时取默认值
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) (results []*RetrievalResult, err error) {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "rag.Retrieve")
	defer span.End()

	log := logger.FromContext(ctx, r.logger)
	defer func() {
		metrics.RetrievalDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.RetrievalsTotal.WithLabelValues(KindLabel(err)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, KindLabel(err))
			log.Warn("检索失败", zap.Int("top_k", topK), zap.Error(err))
			return
		}
		metrics.RetrievalsTotal.WithLabelValues("success").Inc()
		metrics.RetrievalResults.Observe(float64(len(results)))
		log.Debug("检索完成",
			zap.Int("top_k", topK),
			zap.Int("results", len(results)),
			zap.Duration("elapsed", time.Since(started)),
		)
	}()

	if strings.TrimSpace(question) == "" {
		return nil, ValidationError("question must not be empty")
	}
	if topK < 0 {
		return nil, ValidationError("topK must be a positive integer")
	}
	if topK == 0 {
		topK = r.defaultTopK
	}
	span.SetAttributes(attribute.Int("top_k", topK))

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, r.wrap(StageEmbedding, "failed to embed question", err)
	}
	if len(vec) == 0 {
		return nil, newError(ErrRetrieval, StageEmbedding, "embedding provider returned an empty vector", nil)
	}

	results, err = r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, r.wrap(StageSearching, "vector search failed", err)
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// wrap 取消与超时保持原分类，其余统一归为检索错误
func (r *Retriever) wrap(stage Stage, msg string, err error) error {
	if errors.Is(err, ErrValidation) {
		return err
	}
	if ce, ok := classifyContext(err, stage, 0); ok {
		return ce
	}
	return newError(ErrRetrieval, stage, msg, err)
}
