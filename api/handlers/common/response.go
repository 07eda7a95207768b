package common

import (
	"errors"
	"net/http"
	"strconv"

	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
)

// Error 按错误分类写出状态码与 {error, details}
func Error(c *gin.Context, err error) {
	status := rag.HTTPStatus(err)
	c.JSON(status, NewErrorResponse(status, err))
}

// NewErrorResponse 面向用户的消息 + 底层诊断信息
func NewErrorResponse(status int, err error) ErrorResponse {
	var resp ErrorResponse
	var e *rag.Error
	switch {
	case errors.As(err, &e):
		resp.Error = e.Kind.Error()
		if e.Message != "" {
			resp.Error += ": " + e.Message
		}
		resp.Details = e.Details
	case status >= http.StatusInternalServerError:
		resp.Error = "internal server error"
		resp.Details = err.Error()
	default:
		resp.Error = err.Error()
	}
	return resp
}

// BadRequest 请求格式错误
func BadRequest(c *gin.Context, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

// QueryInt 读取整数查询参数，缺省返回 def
func QueryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
