package chat

import (
	"context"
	"net/http"

	response "ragchat/api/handlers/common"
	chatsvc "ragchat/internal/chat"

	"github.com/gin-gonic/gin"
)

// Asker 问答服务
type Asker interface {
	Ask(ctx context.Context, req chatsvc.AskRequest) (*chatsvc.AskResult, error)
}

// ChatStore 会话存储
type ChatStore interface {
	GetChat(ctx context.Context, id string) (*chatsvc.Chat, error)
	ListChats(ctx context.Context) ([]*chatsvc.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]*chatsvc.Message, error)
	DeleteChat(ctx context.Context, id string) error
}

// ChatHandler 对话处理器
type ChatHandler struct {
	asker Asker
	store ChatStore
}

// NewChatHandler 创建对话处理器
func NewChatHandler(asker Asker, store ChatStore) *ChatHandler {
	return &ChatHandler{asker: asker, store: store}
}

// Ask 提问并返回回答
// @Summary 基于文档回答问题
// @Tags Chat
// @Accept json
// @Produce json
// @Param request body AskRequest true "问题"
// @Success 200 {object} chatsvc.AskResult
// @Router /api/chat [post]
func (h *ChatHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err)
		return
	}

	res, err := h.asker.Ask(c.Request.Context(), chatsvc.AskRequest{ChatID: req.ChatID, Message: req.text()})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListChats 会话列表，最近更新在前
// @Router /api/chats [get]
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.store.ListChats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, ChatsResponse{Chats: chats})
}

// ListMessages 会话消息
// @Router /api/chats/{id}/messages [get]
func (h *ChatHandler) ListMessages(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetChat(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	msgs, err := h.store.ListMessages(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{Messages: msgs})
}

// DeleteChat 删除会话及其消息
// @Router /api/chats/{id} [delete]
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.store.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
