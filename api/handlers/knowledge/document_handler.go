package knowledge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	response "ragchat/api/handlers/common"
	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
)

// Ingestor 入库编排
type Ingestor interface {
	Ingest(ctx context.Context, req rag.IngestRequest) (*rag.IngestResult, error)
	MaxFileSize() int64
}

// multipartOverhead 文件之外的表单字段与分隔符预留
const multipartOverhead int64 = 1 << 20

// DocumentService 文档查询与删除
type DocumentService interface {
	Get(ctx context.Context, id int64) (*rag.Document, error)
	List(ctx context.Context, limit, offset int) ([]*rag.Document, int64, error)
	Delete(ctx context.Context, id int64) error
}

// DocumentHandler 文档处理器
type DocumentHandler struct {
	ingestor Ingestor
	docs     DocumentService
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(ingestor Ingestor, docs DocumentService) *DocumentHandler {
	return &DocumentHandler{ingestor: ingestor, docs: docs}
}

// Upload 上传并同步入库一个 PDF
// @Summary 上传 PDF
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF 文件"
// @Success 200 {object} rag.IngestResult
// @Failure 400 {object} response.ErrorResponse
// @Failure 408 {object} response.ErrorResponse
// @Failure 413 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/upload [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	// 声明长度已超限时不读取请求体
	if limit := h.ingestor.MaxFileSize(); limit > 0 && c.Request.ContentLength > limit+multipartOverhead {
		response.Error(c, rag.TooLargeError(c.Request.ContentLength, limit))
		return
	}

	reader, err := c.Request.MultipartReader()
	if err != nil {
		response.Error(c, rag.ValidationError("expected multipart/form-data with a file field"))
		return
	}

	// 流式读取 file 字段，大小由入库流程限制
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			response.Error(c, rag.ValidationError("malformed multipart body"))
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		res, err := h.ingestor.Ingest(c.Request.Context(), rag.IngestRequest{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Size:        -1,
			Body:        part,
		})
		_ = part.Close()
		if err != nil {
			response.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	response.Error(c, rag.ValidationError("no file provided"))
}

// List 文档列表，按上传时间倒序
// @Router /api/documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	limit, err := response.QueryInt(c, "limit", 50)
	if err != nil {
		response.BadRequest(c, "invalid limit", err)
		return
	}
	offset, err := response.QueryInt(c, "offset", 0)
	if err != nil {
		response.BadRequest(c, "invalid offset", err)
		return
	}

	docs, total, err := h.docs.List(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		items = append(items, toSummary(d))
	}
	c.JSON(http.StatusOK, ListDocumentsResponse{
		Documents:  items,
		Pagination: response.PaginationMeta{Limit: limit, Offset: offset, Total: total},
	})
}

// Get 文档详情
// @Router /api/documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	doc, err := h.docs.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Delete 删除文档：向量、原始文件、数据库记录
// @Router /api/documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := documentID(c)
	if !ok {
		return
	}
	if err := h.docs.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func documentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid document id", err)
		return 0, false
	}
	return id, true
}
