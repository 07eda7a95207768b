package rag

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// DocumentRepository 文档持久化
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id int64) (*Document, error)
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*Document, int64, error)
	Delete(ctx context.Context, id int64) error
	// Each 按 ID 升序分页遍历完整文档（含分块与向量）
	Each(ctx context.Context, pageSize int, fn func(*Document) error) error
}

// GormDocumentRepository 基于 gorm 的实现
type GormDocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建仓储
func NewDocumentRepository(db *gorm.DB) *GormDocumentRepository {
	return &GormDocumentRepository{db: db}
}

// Create 在单个事务中写入文档行，连接在事务结束时归还
func (r *GormDocumentRepository) Create(ctx context.Context, doc *Document) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(doc).Error
	})
}

// Get 获取单个文档
func (r *GormDocumentRepository) Get(ctx context.Context, id int64) (*Document, error) {
	var doc Document
	if err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, "", fmt.Sprintf("document %d not found", id), nil)
		}
		return nil, err
	}
	return &doc, nil
}

// Exists 文档是否存在
func (r *GormDocumentRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// List 按上传时间倒序，不加载全文、分块和向量
func (r *GormDocumentRepository) List(ctx context.Context, limit, offset int) ([]*Document, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	db := r.db.WithContext(ctx).Model(&Document{})
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var docs []*Document
	err := db.Select("id", "filename", "original_name", "chunk_count", "file_size", "uploaded_at").
		Order("uploaded_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// Delete 删除文档行
func (r *GormDocumentRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&Document{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return newError(ErrNotFound, "", fmt.Sprintf("document %d not found", id), nil)
	}
	return nil
}

// Each 分页遍历
func (r *GormDocumentRepository) Each(ctx context.Context, pageSize int, fn func(*Document) error) error {
	if pageSize <= 0 {
		pageSize = 20
	}
	var lastID int64
	for {
		var docs []*Document
		err := r.db.WithContext(ctx).Where("id > ?", lastID).Order("id ASC").Limit(pageSize).Find(&docs).Error
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := fn(d); err != nil {
				return err
			}
			lastID = d.ID
		}
		if len(docs) < pageSize {
			return nil
		}
	}
}
