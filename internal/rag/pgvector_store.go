package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// chunkVectorRow pgvector 表的一行
type chunkVectorRow struct {
	ID         int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	DocumentID int64           `gorm:"column:document_id;index"`
	ChunkIndex int             `gorm:"column:chunk_index"`
	Content    string          `gorm:"column:content;type:text"`
	Embedding  pgvector.Vector `gorm:"column:embedding"`
}

// PGVectorOptions pgvector 存储配置
type PGVectorOptions struct {
	Table     string
	Dimension int
	Metric    DistanceMetric
	BatchSize int
}

// PGVectorStore 基于 PostgreSQL pgvector 扩展的向量存储实现
type PGVectorStore struct {
	db        *gorm.DB
	table     string
	dimension int
	metric    DistanceMetric
	batchSize int
	guard     collectionGuard
}

// NewPGVectorStore 创建 pgvector 存储，表在 EnsureCollection 时创建
func NewPGVectorStore(db *gorm.DB, opts PGVectorOptions) (*PGVectorStore, error) {
	table := opts.Table
	if table == "" {
		table = DefaultCollection
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("非法的表名: %q", table)
	}
	dim := opts.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	metric := opts.Metric
	if metric == "" {
		metric = MetricCosine
	}
	return &PGVectorStore{
		db:        db,
		table:     table,
		dimension: dim,
		metric:    metric,
		batchSize: opts.BatchSize,
	}, nil
}

// EnsureCollection 建扩展、建表、建索引；并发建表的冲突视为成功
func (s *PGVectorStore) EnsureCollection(ctx context.Context) error {
	return s.guard.ensure(ctx, func(ctx context.Context) error {
		opsClass := "vector_cosine_ops"
		if s.metric == MetricL2 {
			opsClass = "vector_l2_ops"
		}
		stmts := []string{
			"CREATE EXTENSION IF NOT EXISTS vector",
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id BIGINT PRIMARY KEY,
				document_id BIGINT NOT NULL,
				chunk_index INTEGER NOT NULL,
				content TEXT NOT NULL,
				embedding vector(%d) NOT NULL
			)`, s.table, s.dimension),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_document_id ON %s (document_id)", s.table, s.table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding %s)", s.table, s.table, opsClass),
		}
		db := s.db.WithContext(ctx)
		for _, stmt := range stmts {
			if err := db.Exec(stmt).Error; err != nil && !isAlreadyExists(err) {
				return err
			}
		}
		return nil
	})
}

// Upsert ON CONFLICT (id) DO UPDATE，每批一个事务
func (s *PGVectorStore) Upsert(ctx context.Context, points []*Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points, s.dimension); err != nil {
		return err
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	return upsertInBatches(ctx, points, s.batchSize, func(ctx context.Context, batch []*Point) error {
		rows := make([]chunkVectorRow, len(batch))
		for i, p := range batch {
			rows[i] = chunkVectorRow{
				ID:         p.ChunkID,
				DocumentID: p.DocumentID,
				ChunkIndex: p.ChunkIndex,
				Content:    p.Content,
				Embedding:  pgvector.NewVector(p.Vector),
			}
		}
		return s.db.WithContext(ctx).Table(s.table).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"document_id", "chunk_index", "content", "embedding"}),
		}).Create(&rows).Error
	})
}

// Search 余弦：1 - (embedding <=> q)；L2：1/(1 + (embedding <-> q))
func (s *PGVectorStore) Search(ctx context.Context, query []float32, topK int) ([]*RetrievalResult, error) {
	if err := validateQuery(query, s.dimension, topK); err != nil {
		return nil, err
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	op, score := "<=>", "1 - (embedding <=> ?)"
	if s.metric == MetricL2 {
		op, score = "<->", "1 / (1 + (embedding <-> ?))"
	}
	sql := fmt.Sprintf(`SELECT id, document_id, chunk_index, content, %s AS score
		FROM %s
		ORDER BY embedding %s ?
		LIMIT ?`, score, s.table, op)

	vec := pgvector.NewVector(query)
	var rows []struct {
		ID         int64   `gorm:"column:id"`
		DocumentID int64   `gorm:"column:document_id"`
		ChunkIndex int     `gorm:"column:chunk_index"`
		Content    string  `gorm:"column:content"`
		Score      float64 `gorm:"column:score"`
	}
	if err := s.db.WithContext(ctx).Raw(sql, vec, vec, topK).Scan(&rows).Error; err != nil {
		return nil, newError(ErrVectorStore, StageSearching, "pgvector search failed", err)
	}

	results := make([]*RetrievalResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, &RetrievalResult{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Content:    r.Content,
			Score:      r.Score,
		})
	}
	sortBySimilarity(results)
	return results, nil
}

// DeleteByDocument 删除文档的全部向量
func (s *PGVectorStore) DeleteByDocument(ctx context.Context, documentID int64) error {
	err := s.db.WithContext(ctx).Table(s.table).Where("document_id = ?", documentID).Delete(&chunkVectorRow{}).Error
	if err != nil && !isUndefinedTable(err) {
		return newError(ErrVectorStore, "", "pgvector delete failed", err)
	}
	return nil
}

// Count 表中向量数
func (s *PGVectorStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Table(s.table).Count(&n).Error; err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, newError(ErrVectorStore, "", "pgvector count failed", err)
	}
	return n, nil
}

func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate key")
}

func isUndefinedTable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no such table")
}
