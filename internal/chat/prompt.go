package chat

import (
	"strings"

	"ragchat/internal/rag"
)

// DefaultPromptTemplate 没有激活模板时的系统提示
const DefaultPromptTemplate = "You are an expert assistant for the uploaded documents. Answer based on the information provided."

// BuildPrompt 拼接检索上下文与当前问题
func BuildPrompt(chunks []*rag.RetrievalResult, question string) string {
	var b strings.Builder
	if len(chunks) > 0 {
		b.WriteString("Document context:\n")
		for i, c := range chunks {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(c.Content)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// TrimHistory 从最新的消息往前保留，直到 token 预算用完；budget <= 0 表示不裁剪
func TrimHistory(msgs []*Message, budget int, count rag.TokenCounter) []Turn {
	if count == nil {
		count = rag.EstimateTokens
	}
	start := 0
	if budget > 0 {
		used := 0
		start = len(msgs)
		for i := len(msgs) - 1; i >= 0; i-- {
			used += count(msgs[i].Content)
			if used > budget {
				break
			}
			start = i
		}
	}
	turns := make([]Turn, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// ChatTitle 取问题前 50 个字符作为标题
func ChatTitle(question string) string {
	q := []rune(strings.TrimSpace(question))
	if len(q) <= 50 {
		return string(q)
	}
	return string(q[:50]) + "..."
}
