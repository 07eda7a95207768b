package api

import (
	chatHandlers "ragchat/api/handlers/chat"
	knowledgeHandlers "ragchat/api/handlers/knowledge"
	middlewarepkg "ragchat/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Handlers 全部 HTTP 处理器
type Handlers struct {
	Document *knowledgeHandlers.DocumentHandler
	Search   *knowledgeHandlers.SearchHandler
	Chat     *chatHandlers.ChatHandler
	Model    *chatHandlers.ModelHandler
}

// InitHandlers 初始化所有 Handlers
func (c *AppContainer) InitHandlers() *Handlers {
	return &Handlers{
		Document: knowledgeHandlers.NewDocumentHandler(c.Ingestor, c.Documents),
		Search:   knowledgeHandlers.NewSearchHandler(c.Retriever),
		Chat:     chatHandlers.NewChatHandler(c.Chat, c.ChatRepo),
		Model:    chatHandlers.NewModelHandler(c.ChatRepo),
	}
}

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, h *Handlers, limiter *middlewarepkg.RateLimiter) {
	api := router.Group("/api")

	heavy := middlewarepkg.RateLimitByEndpoint(limiter)

	registerDocumentRoutes(api, h, heavy)
	registerChatRoutes(api, h, heavy)
	registerModelRoutes(api, h)
}

// registerDocumentRoutes 文档上传、管理与检索
func registerDocumentRoutes(api *gin.RouterGroup, h *Handlers, heavy gin.HandlerFunc) {
	api.POST("/upload", heavy, h.Document.Upload)

	docs := api.Group("/documents")
	{
		docs.GET("", h.Document.List)
		docs.GET("/:id", h.Document.Get)
		docs.DELETE("/:id", h.Document.Delete)
	}

	api.POST("/context/retrieve", h.Search.Retrieve)
}

// registerChatRoutes 对话
func registerChatRoutes(api *gin.RouterGroup, h *Handlers, heavy gin.HandlerFunc) {
	api.POST("/chat", heavy, h.Chat.Ask)

	chats := api.Group("/chats")
	{
		chats.GET("", h.Chat.ListChats)
		chats.GET("/:id/messages", h.Chat.ListMessages)
		chats.DELETE("/:id", h.Chat.DeleteChat)
	}
}

// registerModelRoutes 模型配置与提示词模板
func registerModelRoutes(api *gin.RouterGroup, h *Handlers) {
	models := api.Group("/ai-models")
	{
		models.GET("", h.Model.ListModels)
		models.POST("", h.Model.CreateModel)
		models.POST("/:id/activate", h.Model.ActivateModel)
	}

	settings := api.Group("/context-settings")
	{
		settings.GET("", h.Model.ListContextSettings)
		settings.POST("", h.Model.CreateContextSetting)
		settings.POST("/:id/activate", h.Model.ActivateContextSetting)
	}
}
