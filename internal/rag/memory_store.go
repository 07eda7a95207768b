package rag

import (
	"context"
	"sync"
)

// MemoryStore 进程内向量存储，用于开发环境和测试
type MemoryStore struct {
	mu        sync.RWMutex
	points    map[int64]*Point
	dimension int
	metric    DistanceMetric
	batchSize int
	guard     collectionGuard
	created   int
}

// NewMemoryStore 创建内存向量存储
func NewMemoryStore(dimension int, metric DistanceMetric) *MemoryStore {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	if metric == "" {
		metric = MetricCosine
	}
	return &MemoryStore{
		points:    make(map[int64]*Point),
		dimension: dimension,
		metric:    metric,
		batchSize: DefaultUpsertBatchSize,
	}
}

// EnsureCollection 内存实现只记录创建次数
func (s *MemoryStore) EnsureCollection(ctx context.Context) error {
	return s.guard.ensure(ctx, func(context.Context) error {
		s.mu.Lock()
		s.created++
		s.mu.Unlock()
		return nil
	})
}

// Upsert 按 chunk ID 覆盖
func (s *MemoryStore) Upsert(ctx context.Context, points []*Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points, s.dimension); err != nil {
		return err
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	return upsertInBatches(ctx, points, s.batchSize, func(_ context.Context, batch []*Point) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, p := range batch {
			cp := *p
			cp.Vector = append([]float32(nil), p.Vector...)
			s.points[p.ChunkID] = &cp
		}
		return nil
	})
}

// Search 暴力计算全部相似度
func (s *MemoryStore) Search(ctx context.Context, query []float32, topK int) ([]*RetrievalResult, error) {
	if err := validateQuery(query, s.dimension, topK); err != nil {
		return nil, err
	}
	s.mu.RLock()
	results := make([]*RetrievalResult, 0, len(s.points))
	for _, p := range s.points {
		var score float64
		if s.metric == MetricL2 {
			score = similarityFromDistance(l2Distance(query, p.Vector))
		} else {
			score = cosineSimilarity(query, p.Vector)
		}
		results = append(results, &RetrievalResult{
			ChunkID:    p.ChunkID,
			DocumentID: p.DocumentID,
			ChunkIndex: p.ChunkIndex,
			Content:    p.Content,
			Score:      score,
		})
	}
	s.mu.RUnlock()

	sortBySimilarity(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDocument 删除文档的全部向量
func (s *MemoryStore) DeleteByDocument(ctx context.Context, documentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.DocumentID == documentID {
			delete(s.points, id)
		}
	}
	return nil
}

// Count 点数
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.points)), nil
}

// Collections 集合被创建的次数，恒为 0 或 1
func (s *MemoryStore) Collections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.created
}
