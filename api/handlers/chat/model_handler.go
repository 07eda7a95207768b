package chat

import (
	"context"
	"net/http"

	response "ragchat/api/handlers/common"
	chatsvc "ragchat/internal/chat"

	"github.com/gin-gonic/gin"
)

// ModelStore 模型配置与提示词模板存储
type ModelStore interface {
	ListModels(ctx context.Context) ([]*chatsvc.AIModelConfig, error)
	CreateModel(ctx context.Context, m *chatsvc.AIModelConfig) error
	ActivateModel(ctx context.Context, id string) error
	ListContextSettings(ctx context.Context) ([]*chatsvc.ContextSetting, error)
	CreateContextSetting(ctx context.Context, s *chatsvc.ContextSetting) error
	ActivateContextSetting(ctx context.Context, id string) error
}

// ModelHandler 模型配置处理器
type ModelHandler struct {
	store ModelStore
}

// NewModelHandler 创建模型配置处理器
func NewModelHandler(store ModelStore) *ModelHandler {
	return &ModelHandler{store: store}
}

// ListModels 模型配置列表
// @Router /api/ai-models [get]
func (h *ModelHandler) ListModels(c *gin.Context) {
	models, err := h.store.ListModels(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// CreateModel 新建模型配置，提供方必须是 gemini 或 grok
// @Router /api/ai-models [post]
func (h *ModelHandler) CreateModel(c *gin.Context) {
	var req CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err)
		return
	}

	m := &chatsvc.AIModelConfig{
		Name:     req.Name,
		Provider: chatsvc.ProviderKind(req.Provider),
		Model:    req.Model,
		APIKey:   req.APIKey,
		BaseURL:  req.BaseURL,
	}
	if err := h.store.CreateModel(c.Request.Context(), m); err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"model": m})
}

// ActivateModel 激活模型，其余模型自动取消激活
// @Router /api/ai-models/{id}/activate [post]
func (h *ModelHandler) ActivateModel(c *gin.Context) {
	if err := h.store.ActivateModel(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListContextSettings 提示词模板列表
// @Router /api/context-settings [get]
func (h *ModelHandler) ListContextSettings(c *gin.Context) {
	settings, err := h.store.ListContextSettings(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// CreateContextSetting 新建提示词模板
// @Router /api/context-settings [post]
func (h *ModelHandler) CreateContextSetting(c *gin.Context) {
	var req CreateContextSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err)
		return
	}

	s := &chatsvc.ContextSetting{Name: req.Name, PromptTemplate: req.PromptTemplate}
	if err := h.store.CreateContextSetting(c.Request.Context(), s); err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"setting": s})
}

// ActivateContextSetting 激活提示词模板
// @Router /api/context-settings/{id}/activate [post]
func (h *ModelHandler) ActivateContextSetting(c *gin.Context) {
	if err := h.store.ActivateContextSetting(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
