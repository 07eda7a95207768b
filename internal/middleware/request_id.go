package middleware

import (
	"ragchat/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HTTP 头常量
const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// RequestIDKey gin 上下文中的请求 ID 键
const RequestIDKey = "request_id"

// RequestIDMiddleware 请求 ID 中间件
// 支持上游传递 X-Request-ID / X-Trace-ID，缺失时生成
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = requestID
		}

		c.Set(RequestIDKey, requestID)

		// 注入到 context.Context，供 logger.FromContext 使用
		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		ctx = logger.WithTraceID(ctx, traceID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)

		c.Next()
	}
}

// GetRequestIDFromGin 从 Gin 上下文获取请求 ID
func GetRequestIDFromGin(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
