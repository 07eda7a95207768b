package rag

import (
	"context"
	"errors"
	"fmt"

	"ragchat/internal/logger"
	"ragchat/internal/metrics"

	"go.uber.org/zap"
)

// DocumentService 文档查询、删除以及孤儿清理、向量重建
type DocumentService struct {
	docs   DocumentRepository
	store  VectorStore
	files  FileStore
	logger *zap.Logger
}

// NewDocumentService 创建文档服务，files 可为 nil
func NewDocumentService(docs DocumentRepository, store VectorStore, files FileStore, log *zap.Logger) *DocumentService {
	return &DocumentService{
		docs:   docs,
		store:  store,
		files:  files,
		logger: logger.OrNop(log).Named("documents"),
	}
}

// Get 获取文档
func (s *DocumentService) Get(ctx context.Context, id int64) (*Document, error) {
	return s.docs.Get(ctx, id)
}

// List 分页列出文档
func (s *DocumentService) List(ctx context.Context, limit, offset int) ([]*Document, int64, error) {
	if offset < 0 {
		return nil, 0, ValidationError("offset must not be negative")
	}
	return s.docs.List(ctx, limit, offset)
}

// Delete 依次删除向量、原始文件、文档行；任一步失败即返回，可安全重试
func (s *DocumentService) Delete(ctx context.Context, id int64) error {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteByDocument(ctx, id); err != nil {
		return err
	}
	if s.files != nil && doc.Filename != "" {
		if err := s.files.Delete(ctx, doc.Filename); err != nil {
			return newError(ErrPersistence, "", "failed to delete stored file", err)
		}
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return err
	}
	logger.FromContext(ctx, s.logger).Info("文档已删除", zap.Int64("document_id", id), zap.String("file", doc.Filename))
	return nil
}

// Reconcile 清理失败入库残留的向量与文件；文档行已存在时视为入库成功，不做处理
func (s *DocumentService) Reconcile(ctx context.Context, orphan OrphanRecord) error {
	log := logger.FromContext(ctx, s.logger).With(zap.Int64("document_id", orphan.DocumentID))
	if orphan.DocumentID <= 0 {
		return ValidationError("orphan record has no document id")
	}
	exists, err := s.docs.Exists(ctx, orphan.DocumentID)
	if err != nil {
		return fmt.Errorf("check document %d: %w", orphan.DocumentID, err)
	}
	if exists {
		metrics.ReconcileTasksTotal.WithLabelValues("skipped").Inc()
		log.Info("文档已落库，跳过清理")
		return nil
	}

	var errs []error
	if err := s.store.DeleteByDocument(ctx, orphan.DocumentID); err != nil {
		errs = append(errs, err)
	}
	if s.files != nil && orphan.StoredFilename != "" {
		if err := s.files.Delete(ctx, orphan.StoredFilename); err != nil {
			errs = append(errs, fmt.Errorf("delete file %s: %w", orphan.StoredFilename, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		metrics.ReconcileTasksTotal.WithLabelValues("failed").Inc()
		log.Warn("孤儿数据清理失败", zap.Error(err))
		return err
	}
	metrics.ReconcileTasksTotal.WithLabelValues("cleaned").Inc()
	log.Info("孤儿数据已清理", zap.String("file", orphan.StoredFilename))
	return nil
}

// ScheduleCleanup 未启用任务队列时同步清理
func (s *DocumentService) ScheduleCleanup(ctx context.Context, orphan OrphanRecord) error {
	return s.Reconcile(ctx, orphan)
}

// ReindexStats 重建统计
type ReindexStats struct {
	Documents int `json:"documents"`
	Points    int `json:"points"`
	Skipped   int `json:"skipped"`
}

// Reindex 从关系库保存的分块与向量重放到向量库，不调用向量化服务
func (s *DocumentService) Reindex(ctx context.Context) (*ReindexStats, error) {
	if err := s.store.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, s.logger)
	stats := &ReindexStats{}
	err := s.docs.Each(ctx, 20, func(doc *Document) error {
		records, vectors, err := doc.DecodeArtifacts()
		if err != nil {
			stats.Skipped++
			log.Warn("文档分块数据损坏，跳过", zap.Int64("document_id", doc.ID), zap.Error(err))
			return nil
		}
		if len(records) == 0 {
			stats.Skipped++
			return nil
		}
		points := make([]*Point, len(records))
		for i, rec := range records {
			points[i] = &Point{
				ChunkID:    rec.ID,
				DocumentID: doc.ID,
				ChunkIndex: rec.ChunkIndex,
				Content:    rec.Content,
				Vector:     vectors[i],
			}
		}
		if err := s.store.Upsert(ctx, points); err != nil {
			return fmt.Errorf("reindex document %d: %w", doc.ID, err)
		}
		stats.Documents++
		stats.Points += len(points)
		return nil
	})
	if err != nil {
		return stats, err
	}
	log.Info("向量重建完成",
		zap.Int("documents", stats.Documents),
		zap.Int("points", stats.Points),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}
