package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCollection 全局唯一集合名
	DefaultCollection = "document_chunks"
	// DefaultDimension 默认向量维度
	DefaultDimension = 768
	// DefaultUpsertBatchSize 单次写入的点数上限
	DefaultUpsertBatchSize = 100
	// DefaultTopK 默认检索条数
	DefaultTopK = 5
)

// ErrDimensionMismatch 向量维度与集合不一致，不重试
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Point 写入向量库的一条分块向量
type Point struct {
	ChunkID    int64
	DocumentID int64
	ChunkIndex int
	Content    string
	Vector     []float32
}

// RetrievalResult 一次检索命中的分块，Score 越大越相似
type RetrievalResult struct {
	ChunkID    int64   `json:"chunkId"`
	DocumentID int64   `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// VectorStore 向量库网关，后端由配置选择（qdrant、pgvector、memory）
type VectorStore interface {
	// EnsureCollection 集合不存在时创建，可并发重复调用
	EnsureCollection(ctx context.Context) error
	// Upsert 按 ID 覆盖写入，内部分批
	Upsert(ctx context.Context, points []*Point) error
	// Search 返回按相似度降序的至多 topK 条结果
	Search(ctx context.Context, query []float32, topK int) ([]*RetrievalResult, error)
	DeleteByDocument(ctx context.Context, documentID int64) error
	Count(ctx context.Context) (int64, error)
}

// DistanceMetric 相似度度量
type DistanceMetric string

const (
	MetricCosine DistanceMetric = "cosine"
	MetricL2     DistanceMetric = "l2"
)

// ParseMetric 解析配置中的度量名称
func ParseMetric(s string) (DistanceMetric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return MetricCosine, nil
	case "l2", "euclid", "euclidean":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unsupported distance metric %q", s)
	}
}

// similarityFromDistance L2 距离映射为 (0,1] 的相似度，保持单调
func similarityFromDistance(d float64) float64 {
	return 1 / (1 + d)
}

// sortBySimilarity 相似度降序，同分按 chunk ID 升序保证稳定
func sortBySimilarity(results []*RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

// validatePoints 写入前整体校验，维度不一致直接失败，不写入任何批次
func validatePoints(points []*Point, dimension int) error {
	for i, p := range points {
		if p == nil {
			return newError(ErrVectorStore, StageUpserting, fmt.Sprintf("point %d is nil", i), nil)
		}
		if len(p.Vector) != dimension {
			return newError(ErrVectorStore, StageUpserting, fmt.Sprintf("chunk %d", p.ChunkID),
				fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(p.Vector)))
		}
	}
	return nil
}

// upsertInBatches 顺序写入各批次，批次之间检查取消，第一个失败的批次终止整个调用
func upsertInBatches(ctx context.Context, points []*Point, batchSize int, write func(context.Context, []*Point) error) error {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}
	for batch, start := 0, 0; start < len(points); batch, start = batch+1, start+batchSize {
		if err := ctx.Err(); err != nil {
			return VectorStoreBatchError(batch, err)
		}
		end := min(start+batchSize, len(points))
		if err := write(ctx, points[start:end]); err != nil {
			return VectorStoreBatchError(batch, err)
		}
	}
	return nil
}

func validateQuery(query []float32, dimension, topK int) error {
	if len(query) == 0 {
		return ValidationError("query vector is empty")
	}
	if dimension > 0 && len(query) != dimension {
		return ValidationError(fmt.Sprintf("query dimension %d does not match collection dimension %d", len(query), dimension))
	}
	if topK <= 0 {
		return ValidationError("topK must be a positive integer")
	}
	return nil
}

// collectionGuard 合并并发的建集合请求；成功后记住结果，失败不缓存
type collectionGuard struct {
	ready atomic.Bool
	group singleflight.Group
}

func (g *collectionGuard) ensure(ctx context.Context, create func(context.Context) error) error {
	if g.ready.Load() {
		return nil
	}
	_, err, _ := g.group.Do("ensure", func() (any, error) {
		if g.ready.Load() {
			return nil, nil
		}
		// 不随首个调用方取消
		if err := create(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		g.ready.Store(true)
		return nil, nil
	})
	if err != nil {
		return newError(ErrVectorStore, StageUpserting, "ensure collection failed", err)
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
