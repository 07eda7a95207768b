package parsers

import (
	"context"
	"errors"
)

// Extractor 把原始文档字节转换为纯文本
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

var (
	// ErrEmptyDocument 文档没有页或没有任何可提取文本
	ErrEmptyDocument = errors.New("document has no extractable text")
	// ErrCorruptDocument 文档结构无法解析
	ErrCorruptDocument = errors.New("document is not a valid pdf")
)
