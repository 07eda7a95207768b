package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PrometheusMiddleware 记录 HTTP 请求数、延迟和请求体大小
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 跳过 /metrics 端点，避免自我监控
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		requestSize := c.Request.ContentLength

		c.Next()

		duration := time.Since(start).Seconds()
		path := normalizePath(c)
		status := strconv.Itoa(c.Writer.Status())

		APIRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		APIRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)

		if requestSize > 0 {
			APIRequestSize.WithLabelValues(c.Request.Method, path).Observe(float64(requestSize))
		}
	}
}

// normalizePath 标准化路径（使用路由模板）
func normalizePath(c *gin.Context) string {
	// 路由模板（如 /api/documents/:id），未匹配的路由归为 unmatched
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}
