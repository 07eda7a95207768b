// Command ragctl 运维工具：离线入库、检索调试、向量重放与集合初始化。
package main

import (
	"context"
	"fmt"
	"os"

	"ragchat/api"
	"ragchat/internal/config"
	"ragchat/internal/infra"
	"ragchat/internal/logger"
	"ragchat/internal/rag"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type ingestor interface {
	Ingest(ctx context.Context, req rag.IngestRequest) (*rag.IngestResult, error)
}

type retriever interface {
	Retrieve(ctx context.Context, question string, topK int) ([]*rag.RetrievalResult, error)
}

type reindexer interface {
	Reindex(ctx context.Context) (*rag.ReindexStats, error)
}

type collectionEnsurer interface {
	EnsureCollection(ctx context.Context) error
}

// services 子命令依赖，测试中替换 loadServices
type services struct {
	Ingestor  ingestor
	Retriever retriever
	Documents reindexer
	Store     collectionEnsurer
	Close     func()
}

var (
	flagEnv    string
	flagConfig string
	flagJSON   bool

	loadServices = defaultServices
	svc          *services
)

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Operate the PDF ingestion and retrieval pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadServices(cmd.Context())
		if err != nil {
			return err
		}
		svc = s
		return nil
	},
}

func closeServices() {
	if svc != nil && svc.Close != nil {
		svc.Close()
	}
	svc = nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnv, "env", envOr("APP_ENV", "dev"), "config environment (dev, prod, test)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "explicit config file path")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print results as JSON")
	cobra.OnFinalize(closeServices)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// defaultServices 按配置组装与服务端相同的组件，不启用任务队列
func defaultServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load(flagEnv, flagConfig)
	if err != nil {
		return nil, err
	}
	log, err := logger.Build(cfg.Log.Level, "console", "stderr")
	if err != nil {
		return nil, err
	}

	db, err := infra.InitDatabase(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	if err := infra.AutoMigrate(db, log, api.Models()...); err != nil {
		_ = infra.CloseDatabase(db)
		return nil, err
	}

	c, err := api.InitContainer(ctx, db, cfg, log, api.ContainerOptions{})
	if err != nil {
		_ = infra.CloseDatabase(db)
		return nil, err
	}

	return &services{
		Ingestor:  c.Ingestor,
		Retriever: c.Retriever,
		Documents: c.Documents,
		Store:     c.Store,
		Close: func() {
			if err := c.Close(); err != nil {
				log.Warn("关闭外部连接失败", zap.Error(err))
			}
			_ = infra.CloseDatabase(db)
			_ = log.Sync()
		},
	}, nil
}
