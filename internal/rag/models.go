package rag

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
)

// Document 一份已入库的 PDF，入库成功后只允许删除
type Document struct {
	ID           int64          `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Filename     string         `json:"filename" gorm:"size:512;not null"`
	OriginalName string         `json:"originalName" gorm:"size:512;not null"`
	Content      string         `json:"content,omitempty" gorm:"type:text"`
	Chunks       datatypes.JSON `json:"-"`
	Embeddings   datatypes.JSON `json:"-"`
	ChunkCount   int            `json:"chunkCount" gorm:"not null;default:0"`
	FileSize     int64          `json:"fileSize" gorm:"not null"`
	UploadedAt   time.Time      `json:"uploadedAt" gorm:"not null;autoCreateTime;index"`
}

// TableName 表名
func (Document) TableName() string { return "documents" }

// ChunkRecord 关系库中随文档保存的分块副本，用于审计与重放
type ChunkRecord struct {
	ID          int64  `json:"id"`
	ChunkIndex  int    `json:"chunk_index"`
	Content     string `json:"content"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	TokenCount  int    `json:"token_count,omitempty"`
}

// EncodeArtifacts 序列化分块与向量，二者按 chunk 序号对齐
func EncodeArtifacts(chunks []Chunk, embeddings [][]float32) (datatypes.JSON, datatypes.JSON, error) {
	if len(chunks) != len(embeddings) {
		return nil, nil, fmt.Errorf("chunks (%d) and embeddings (%d) are misaligned", len(chunks), len(embeddings))
	}
	records := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = ChunkRecord{
			ID:          c.ID,
			ChunkIndex:  c.Index,
			Content:     c.Content,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			TokenCount:  c.TokenCount,
		}
	}
	cj, err := json.Marshal(records)
	if err != nil {
		return nil, nil, err
	}
	ej, err := json.Marshal(embeddings)
	if err != nil {
		return nil, nil, err
	}
	return cj, ej, nil
}

// DecodeArtifacts 反序列化文档保存的分块与向量
func (d *Document) DecodeArtifacts() ([]ChunkRecord, [][]float32, error) {
	var records []ChunkRecord
	if len(d.Chunks) > 0 {
		if err := json.Unmarshal(d.Chunks, &records); err != nil {
			return nil, nil, fmt.Errorf("decode chunks of document %d: %w", d.ID, err)
		}
	}
	var embeddings [][]float32
	if len(d.Embeddings) > 0 {
		if err := json.Unmarshal(d.Embeddings, &embeddings); err != nil {
			return nil, nil, fmt.Errorf("decode embeddings of document %d: %w", d.ID, err)
		}
	}
	if len(records) != len(embeddings) {
		return nil, nil, fmt.Errorf("document %d has %d chunks but %d embeddings", d.ID, len(records), len(embeddings))
	}
	return records, embeddings, nil
}

// IDGenerator 基于毫秒时间戳的单调递增文档 ID
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator 创建 ID 生成器
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next 同一毫秒内多次调用时顺延
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
