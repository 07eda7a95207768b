package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"ragchat/internal/rag"
	"ragchat/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Reconciler 执行孤儿数据清理
type Reconciler interface {
	Reconcile(ctx context.Context, orphan rag.OrphanRecord) error
}

// CleanupHandler 处理 rag:cleanup_ingestion 任务
type CleanupHandler struct {
	reconciler Reconciler
	logger     *zap.Logger
}

// NewCleanupHandler 创建清理任务处理器
func NewCleanupHandler(reconciler Reconciler, logger *zap.Logger) *CleanupHandler {
	return &CleanupHandler{reconciler: reconciler, logger: logger}
}

// HandleCleanupIngestion 载荷非法时不重试
func (h *CleanupHandler) HandleCleanupIngestion(ctx context.Context, t *asynq.Task) error {
	var p tasks.CleanupIngestionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.DocumentID <= 0 {
		return fmt.Errorf("invalid document id %d: %w", p.DocumentID, asynq.SkipRetry)
	}

	h.logger.Info("开始清理入库残留", zap.Int64("document_id", p.DocumentID), zap.String("file", p.StoredFilename))

	err := h.reconciler.Reconcile(ctx, rag.OrphanRecord{
		DocumentID:     p.DocumentID,
		StoredFilename: p.StoredFilename,
		VectorsWritten: p.VectorsWritten,
	})
	if err != nil {
		h.logger.Error("清理入库残留失败", zap.Int64("document_id", p.DocumentID), zap.Error(err))
		return err
	}
	return nil
}
