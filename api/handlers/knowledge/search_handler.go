package knowledge

import (
	"context"
	"net/http"

	response "ragchat/api/handlers/common"
	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
)

// Retriever 语义检索
type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int) ([]*rag.RetrievalResult, error)
}

// SearchHandler 检索处理器
type SearchHandler struct {
	retriever Retriever
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(retriever Retriever) *SearchHandler {
	return &SearchHandler{retriever: retriever}
}

// Retrieve 返回与问题最相关的分块
// @Summary 检索上下文
// @Tags Retrieval
// @Accept json
// @Produce json
// @Param request body RetrieveRequest true "问题"
// @Success 200 {object} RetrieveResponse
// @Router /api/context/retrieve [post]
func (h *SearchHandler) Retrieve(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err)
		return
	}

	results, err := h.retriever.Retrieve(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		response.Error(c, err)
		return
	}
	if results == nil {
		results = []*rag.RetrievalResult{}
	}
	c.JSON(http.StatusOK, RetrieveResponse{Results: results})
}
