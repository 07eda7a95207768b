package knowledge

import (
	"time"

	"ragchat/api/handlers/common"
	"ragchat/internal/rag"
)

// DocumentSummary 文档列表项，不含正文与向量
type DocumentSummary struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	ChunkCount   int       `json:"chunkCount"`
	FileSize     int64     `json:"fileSize"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// ListDocumentsResponse 文档列表
type ListDocumentsResponse struct {
	Documents  []DocumentSummary     `json:"documents"`
	Pagination common.PaginationMeta `json:"pagination"`
}

// RetrieveRequest 检索请求
type RetrieveRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"topK"`
}

// RetrieveResponse 检索结果，按相似度降序
type RetrieveResponse struct {
	Results []*rag.RetrievalResult `json:"results"`
}

func toSummary(d *rag.Document) DocumentSummary {
	return DocumentSummary{
		ID:           d.ID,
		Filename:     d.Filename,
		OriginalName: d.OriginalName,
		ChunkCount:   d.ChunkCount,
		FileSize:     d.FileSize,
		UploadedAt:   d.UploadedAt,
	}
}
