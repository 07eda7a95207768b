package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ragchat/api"
	"ragchat/internal/config"
	"ragchat/internal/infra"
	"ragchat/internal/logger"
	middlewarepkg "ragchat/internal/middleware"
	"ragchat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG_FILE"))
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.L()

	log.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("vector_store", cfg.RAG.VectorStore.Type),
	)

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database, log)
	if err != nil {
		log.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase(db)

	// 4. 执行数据库迁移（根据配置）
	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db, log, api.Models()...); err != nil {
			log.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		log.Info("跳过自动迁移（配置已禁用）")
	}

	// 5. 组装依赖
	ctx := context.Background()
	container, err := api.InitContainer(ctx, db, cfg, log, api.ContainerOptions{WithQueue: true})
	if err != nil {
		log.Fatal("初始化应用容器失败", zap.Error(err))
	}
	defer container.Close()

	// 集合在首次写入时也会创建，这里提前创建失败不阻止启动
	ensureCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := container.Store.EnsureCollection(ensureCtx); err != nil {
		log.Warn("向量集合初始化失败，将在首次写入时重试", zap.Error(err))
	}
	cancel()

	// 6. 创建路由
	gin.SetMode(cfg.Server.Mode)
	router, limiter := api.SetupRouter(container)

	// 7. 创建 HTTP 服务器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 启动 Worker（清理失败入库的残留数据）
	if container.WorkerServer != nil {
		if err := container.WorkerServer.Start(); err != nil {
			log.Error("Worker 服务器启动失败", zap.Error(err))
		}
	}

	// 8. 优雅关闭
	gracefulShutdown(log, server, container.WorkerServer, limiter)
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 从当前工作目录向上查找 .env
func resolveEnvPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir := filepath.Clean(wd)
	for i := 0; i < 8; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// gracefulShutdown 优雅关闭
func gracefulShutdown(log *zap.Logger, server *http.Server, workerServer *worker.Server, limiter *middlewarepkg.RateLimiter) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 先停止接收请求，进行中的入库在超时内完成
	if err := server.Shutdown(ctx); err != nil {
		log.Error("服务器关闭异常", zap.Error(err))
	}
	limiter.Stop()

	if workerServer != nil {
		workerServer.Shutdown()
	}

	log.Info("服务器已安全关闭")
}
