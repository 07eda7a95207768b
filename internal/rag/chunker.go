package rag

import (
	"crypto/sha256"
	"encoding/hex"
)

// 默认分块参数
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	// chunkIDStride 单个文档最多可容纳的分块数，chunk ID = documentID*stride + index
	chunkIDStride = 1_000_000
)

// DefaultSeparators 从粗到细：段落、换行、句末、空格、字符
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk 文档中的一段连续文本，偏移量为 rune 下标
type Chunk struct {
	ID          int64  `json:"id"`
	DocumentID  int64  `json:"document_id"`
	Index       int    `json:"chunk_index"`
	Content     string `json:"content"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	TokenCount  int    `json:"token_count"`
	ContentHash string `json:"content_hash"`
}

// ChunkID 由文档 ID 与序号推导出全局唯一、随序号递增的分块 ID
func ChunkID(documentID int64, index int) int64 {
	return documentID*chunkIDStride + int64(index)
}

// Chunker 递归字符分块器
type Chunker struct {
	size       int
	overlap    int
	separators [][]rune
	countToken TokenCounter
}

// ChunkerOption 分块器可选项
type ChunkerOption func(*Chunker)

// WithChunkSize 目标分块大小（字符）
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap 相邻分块重叠字符数
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithSeparators 自定义分隔符优先级
func WithSeparators(seps []string) ChunkerOption {
	return func(c *Chunker) {
		if len(seps) > 0 {
			c.separators = toRuneSeparators(seps)
		}
	}
}

// WithTokenCounter 替换 token 计数方式
func WithTokenCounter(counter TokenCounter) ChunkerOption {
	return func(c *Chunker) {
		if counter != nil {
			c.countToken = counter
		}
	}
}

// NewChunker 创建分块器，overlap 不小于 size 时回退为 size/5
func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		size:       DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: toRuneSeparators(DefaultSeparators),
		countToken: EstimateTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 5
	}
	return c
}

// Size 分块大小
func (c *Chunker) Size() int { return c.size }

// Overlap 重叠大小
func (c *Chunker) Overlap() int { return c.overlap }

// Split 把全文切分为有序分块，空文本返回空切片
func (c *Chunker) Split(text string, documentID int64) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return []Chunk{}
	}

	var chunks []Chunk
	start := 0
	for {
		end := len(runes)
		if end-start > c.size {
			end = c.splitPoint(runes, start)
		}

		content := string(runes[start:end])
		idx := len(chunks)
		chunks = append(chunks, Chunk{
			ID:          ChunkID(documentID, idx),
			DocumentID:  documentID,
			Index:       idx,
			Content:     content,
			StartOffset: start,
			EndOffset:   end,
			TokenCount:  c.countToken(content),
			ContentHash: hashContent(content),
		})

		if end >= len(runes) {
			return chunks
		}

		// 下一块回退 overlap 个字符，但必须前进
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
}

// splitPoint 在 [start, start+size] 窗口内按分隔符优先级找最后一个切点
// 切点之后的块必须能越过当前块起点 overlap 个字符，否则降级到下一级分隔符
func (c *Chunker) splitPoint(runes []rune, start int) int {
	limit := start + c.size
	window := runes[start:limit]
	for _, sep := range c.separators {
		if len(sep) == 0 {
			break
		}
		pos := lastIndexRunes(window, sep)
		if pos < 0 {
			continue
		}
		end := start + pos + len(sep)
		if end-start > c.overlap {
			return end
		}
	}
	return limit
}

func lastIndexRunes(haystack, sep []rune) int {
	n := len(sep)
outer:
	for i := len(haystack) - n; i >= 0; i-- {
		for j := 0; j < n; j++ {
			if haystack[i+j] != sep[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

func toRuneSeparators(seps []string) [][]rune {
	out := make([][]rune, 0, len(seps))
	for _, s := range seps {
		out = append(out, []rune(s))
	}
	return out
}

// hashContent 计算内容哈希(SHA256)
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
