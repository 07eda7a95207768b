package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/chat"
	"ragchat/internal/config"
	"ragchat/internal/infra"
	"ragchat/internal/infra/queue"
	"ragchat/internal/logger"
	"ragchat/internal/rag"
	"ragchat/internal/rag/parsers"
	"ragchat/internal/storage"
	"ragchat/internal/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	DB     *gorm.DB
	Config *config.Config
	Logger *zap.Logger

	Redis    redis.UniversalClient
	Store    rag.VectorStore
	Embedder rag.EmbeddingProvider
	Files    storage.FileStore

	Documents *rag.DocumentService
	Ingestor  *rag.Ingestor
	Retriever *rag.Retriever

	ChatRepo *chat.Repository
	Chat     *chat.Service

	Queue        *queue.Client
	WorkerServer *worker.Server

	closers []func() error
}

// ContainerOptions 控制可选组件
type ContainerOptions struct {
	// WithQueue 启用 asynq 清理任务与 Worker
	WithQueue bool
}

// InitContainer 初始化应用容器
func InitContainer(ctx context.Context, db *gorm.DB, cfg *config.Config, log *zap.Logger, opts ContainerOptions) (*AppContainer, error) {
	c := &AppContainer{DB: db, Config: cfg, Logger: logger.OrNop(log)}

	if err := c.initRedis(); err != nil {
		return nil, err
	}
	if err := c.initRAG(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if opts.WithQueue {
		if err := c.initQueue(); err != nil {
			c.Close()
			return nil, err
		}
	}
	c.initIngestion()
	c.initChat()
	return c, nil
}

// Models 需要迁移的表
func Models() []interface{} {
	return append([]interface{}{&rag.Document{}}, chat.AllModels()...)
}

// initRedis Redis 仅用于 embedding 缓存与任务队列，不可用时降级
func (c *AppContainer) initRedis() error {
	needRedis := c.Config.AI.Embedding.CacheEnabled || c.Config.Queue.Enabled
	if !needRedis {
		return nil
	}
	rdb, err := infra.InitRedis(&c.Config.Redis, c.Logger)
	if err != nil {
		c.Logger.Warn("Redis 不可用，embedding 缓存已关闭", zap.Error(err))
		return nil
	}
	c.Redis = rdb
	c.closers = append(c.closers, rdb.Close)
	return nil
}

func (c *AppContainer) initRAG(ctx context.Context) error {
	store, err := BuildVectorStore(c.Config, c.DB)
	if err != nil {
		return fmt.Errorf("初始化向量存储失败: %w", err)
	}
	c.Store = store

	embedder, err := BuildEmbedder(c.Config, c.Redis, c.Logger)
	if err != nil {
		return fmt.Errorf("初始化 embedding 失败: %w", err)
	}
	c.Embedder = embedder

	files, closeFn, err := BuildFileStore(ctx, c.Config)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	c.Files = files
	if closeFn != nil {
		c.closers = append(c.closers, closeFn)
	}

	c.Documents = rag.NewDocumentService(rag.NewDocumentRepository(c.DB), store, files, c.Logger)
	c.Retriever = rag.NewRetriever(embedder, store, c.Logger, c.Config.RAG.TopK)
	return nil
}

func (c *AppContainer) initQueue() error {
	if !c.Config.Queue.Enabled {
		return nil
	}
	opt, err := infra.AsynqRedisOpt(&c.Config.Redis)
	if err != nil {
		return fmt.Errorf("初始化任务队列失败: %w", err)
	}
	c.Queue = queue.NewClient(opt, c.Config.Queue.MaxRetry)
	c.closers = append(c.closers, c.Queue.Close)
	c.WorkerServer = worker.NewServer(opt, c.Config.Queue, c.Documents, c.Logger)
	return nil
}

func (c *AppContainer) initIngestion() {
	var reconciler rag.Reconciler = c.Documents
	if c.Queue != nil {
		reconciler = c.Queue
	}

	ing := c.Config.RAG.Ingestion
	c.Ingestor = rag.NewIngestor(rag.IngestorDeps{
		Extractor:  parsers.NewPDFParser(c.Logger),
		Chunker:    BuildChunker(c.Config),
		Embedder:   c.Embedder,
		Store:      c.Store,
		Documents:  rag.NewDocumentRepository(c.DB),
		Files:      c.Files,
		Reconciler: reconciler,
		IDs:        rag.NewIDGenerator(),
		Logger:     c.Logger,
	}, rag.IngestionOptions{
		MaxFileSize:       ing.MaxFileSize,
		ReadTimeout:       ing.ReadTimeout,
		ProcessingTimeout: ing.ProcessingTimeout,
		UpsertTimeout:     ing.UpsertTimeout,
		UpsertAttempts:    ing.UpsertAttempts,
		UpsertRetryDelay:  ing.UpsertRetryDelay,
		PersistTimeout:    ing.PersistTimeout,
	})
}

func (c *AppContainer) initChat() {
	chatCfg := c.Config.AI.Chat
	c.ChatRepo = chat.NewRepository(c.DB)
	c.Chat = chat.NewService(c.ChatRepo, c.Retriever, chat.NewProviderFactory(c.Config.AI), chat.Options{
		TopK:          c.Config.RAG.TopK,
		HistoryTokens: chatCfg.HistoryTokens,
		Temperature:   chatCfg.Temperature,
		Timeout:       time.Duration(chatCfg.TimeoutSeconds) * time.Second,
		TokenCounter:  rag.NewTiktokenCounter("cl100k_base"),
	}, c.Logger)
}

// Close 释放外部连接，数据库由调用方关闭
func (c *AppContainer) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// --- 组件构建 ---

// BuildVectorStore 按配置选择向量存储后端
func BuildVectorStore(cfg *config.Config, db *gorm.DB) (rag.VectorStore, error) {
	vs := cfg.RAG.VectorStore
	metric, err := rag.ParseMetric(vs.Distance)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(vs.Type)) {
	case "qdrant":
		return rag.NewQdrantStore(rag.QdrantOptions{
			Endpoint:        vs.Qdrant.Endpoint,
			APIKey:          vs.Qdrant.APIKey,
			Collection:      vs.Collection,
			VectorDimension: vs.VectorDimension,
			Metric:          metric,
			BatchSize:       vs.BatchSize,
			TimeoutSeconds:  vs.Qdrant.TimeoutSeconds,
		})
	case "pgvector":
		return rag.NewPGVectorStore(db, rag.PGVectorOptions{
			Table:     vs.PGVector.Table,
			Dimension: vs.VectorDimension,
			Metric:    metric,
			BatchSize: vs.BatchSize,
		})
	case "memory":
		return rag.NewMemoryStore(vs.VectorDimension, metric), nil
	default:
		return nil, fmt.Errorf("不支持的向量存储类型: %q", vs.Type)
	}
}

// BuildEmbedder 按配置创建 embedding 提供者，开启缓存时包一层 Redis 缓存
func BuildEmbedder(cfg *config.Config, rdb redis.UniversalClient, log *zap.Logger) (rag.EmbeddingProvider, error) {
	ec := cfg.AI.Embedding

	var provider rag.EmbeddingProvider
	switch strings.ToLower(ec.Provider) {
	case "gemini":
		p, err := rag.NewGeminiEmbeddingProvider(rag.GeminiEmbeddingOptions{
			APIKey:         cfg.AI.Gemini.APIKey,
			BaseURL:        cfg.AI.Gemini.BaseURL,
			Model:          ec.Model,
			Dimension:      ec.Dimension,
			RequestsPerSec: ec.RequestsPerSec,
			Burst:          ec.Burst,
		})
		if err != nil {
			return nil, err
		}
		provider = p
	case "openai":
		provider = rag.NewOpenAIEmbeddingProvider(rag.OpenAIEmbeddingOptions{
			APIKey:    cfg.AI.OpenAI.APIKey,
			BaseURL:   cfg.AI.OpenAI.BaseURL,
			OrgID:     cfg.AI.OpenAI.OrgID,
			Model:     ec.Model,
			Dimension: ec.Dimension,
		})
	default:
		return nil, fmt.Errorf("不支持的 embedding 提供方: %q", ec.Provider)
	}

	if ec.CacheEnabled && rdb != nil {
		cache := rag.NewRedisEmbeddingCache(rdb, "ragchat:emb", ec.CacheTTL)
		return rag.NewCachedEmbeddingProvider(provider, cache, log), nil
	}
	return provider, nil
}

// BuildFileStore 原始文件存储：本地目录或 GCS
func BuildFileStore(ctx context.Context, cfg *config.Config) (storage.FileStore, func() error, error) {
	sc := cfg.Storage
	switch sc.Type {
	case "gcs":
		s, err := storage.NewGCSStore(ctx, sc.Bucket, sc.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := storage.NewLocalStore(sc.LocalPath)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

// BuildChunker 分块器，token 统计使用 tiktoken
func BuildChunker(cfg *config.Config) *rag.Chunker {
	ch := cfg.RAG.Chunk
	opts := []rag.ChunkerOption{
		rag.WithChunkSize(ch.Size),
		rag.WithOverlap(ch.Overlap),
		rag.WithTokenCounter(rag.NewTiktokenCounter("cl100k_base")),
	}
	if len(ch.Separators) > 0 {
		opts = append(opts, rag.WithSeparators(ch.Separators))
	}
	return rag.NewChunker(opts...)
}
