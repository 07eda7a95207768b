package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"ragchat/internal/infra"
	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	VectorStore string `json:"vectorStore"`
	Vectors     int64  `json:"vectors"`
	Reason      string `json:"reason,omitempty"`
}

// HealthCheck 数据库连通性 + 向量库点数
// @Summary 服务健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func HealthCheck(db *gorm.DB, store rag.VectorStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "healthy", Database: "connected", VectorStore: "connected"}
		if err := infra.PingDatabase(ctx, db); err != nil {
			resp.Status, resp.Database, resp.Reason = "unhealthy", "unavailable", err.Error()
		}
		count, err := store.Count(ctx)
		if err != nil {
			resp.VectorStore = "unavailable"
			if resp.Status == "healthy" {
				resp.Status, resp.Reason = "unhealthy", err.Error()
			}
		}
		resp.Vectors = count

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}

// --- 环境变量辅助函数 ---

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var res []string
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

// stringInSlice 判断字符串是否存在于切片中
func stringInSlice(target string, list []string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// defaultIfEmpty 返回非空列表或默认值
func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
