package api

import (
	"ragchat/internal/metrics"
	middlewarepkg "ragchat/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 设置并返回 Gin 路由，限流器随路由返回以便关闭
func SetupRouter(c *AppContainer) (*gin.Engine, *middlewarepkg.RateLimiter) {
	router := gin.New()

	router.Use(
		gin.Recovery(),
		middlewarepkg.RequestIDMiddleware(),
		RequestLogger(c.Logger),
		CORS(),
		metrics.PrometheusMiddleware(),
	)

	router.GET("/health", HealthCheck(c.DB, c.Store))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middlewarepkg.NewRateLimiter(nil)
	RegisterRoutes(router, c.InitHandlers(), limiter)

	return router, limiter
}
