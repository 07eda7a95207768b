package rag

import (
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 计算文本 token 数
type TokenCounter func(text string) int

// EstimateTokens 不依赖词表的近似计数：CJK 字符按 1 个 token，其余约 4 字符 1 个 token
func EstimateTokens(text string) int {
	cjk, other := 0, 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}

// NewTiktokenCounter 基于 tiktoken 的计数器，词表首次使用时加载，加载失败回退到估算
func NewTiktokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	var (
		once sync.Once
		tkm  *tiktoken.Tiktoken
	)
	return func(text string) int {
		once.Do(func() {
			enc, err := tiktoken.GetEncoding(encoding)
			if err == nil {
				tkm = enc
			}
		})
		if tkm == nil {
			return EstimateTokens(text)
		}
		return len(tkm.Encode(text, nil, nil))
	}
}
