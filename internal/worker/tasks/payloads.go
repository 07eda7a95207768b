package tasks

// Task Types
const (
	TypeCleanupIngestion = "rag:cleanup_ingestion"
)

// 队列名
const (
	QueueRAG = "rag"
)

// CleanupIngestionPayload 入库失败后的孤儿数据清理任务载荷
type CleanupIngestionPayload struct {
	DocumentID     int64  `json:"document_id"`
	StoredFilename string `json:"stored_filename,omitempty"`
	VectorsWritten bool   `json:"vectors_written"`
}
