package chat

import chatsvc "ragchat/internal/chat"

// AskRequest 提问，question 为 message 的别名
type AskRequest struct {
	ChatID   string `json:"chatId"`
	Message  string `json:"message"`
	Question string `json:"question"`
}

func (r AskRequest) text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Question
}

// CreateModelRequest 新建模型配置
type CreateModelRequest struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"apiKey"`
	BaseURL  string `json:"baseUrl"`
}

// CreateContextSettingRequest 新建提示词模板
type CreateContextSettingRequest struct {
	Name           string `json:"name"`
	PromptTemplate string `json:"promptTemplate"`
}

// ChatsResponse 会话列表
type ChatsResponse struct {
	Chats []*chatsvc.Chat `json:"chats"`
}

// MessagesResponse 会话消息，按时间升序
type MessagesResponse struct {
	Messages []*chatsvc.Message `json:"messages"`
}
