// Package storage 保存上传的原始文件：本地磁盘或 GCS。
package storage

import "context"

// FileStore 原始文件存储
type FileStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}
