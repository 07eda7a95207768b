package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	AI       AIConfig       `mapstructure:"ai"`
	RAG      RagConfig      `mapstructure:"rag"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	SlowThresholdMs int    `mapstructure:"slow_threshold_ms"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName    string   `mapstructure:"master_name"`
	SentinelAddrs []string `mapstructure:"sentinel_addrs"`
	ClusterAddrs  []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// Addr 单节点地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AIConfig 模型提供方配置
type AIConfig struct {
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Grok      OpenAIConfig    `mapstructure:"grok"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Chat      ChatConfig      `mapstructure:"chat"`
}

// ChatConfig 对话生成配置，数据库中没有激活模型时使用默认模型
type ChatConfig struct {
	DefaultProvider string  `mapstructure:"default_provider"` // gemini, grok
	DefaultModel    string  `mapstructure:"default_model"`
	HistoryTokens   int     `mapstructure:"history_tokens"`
	Temperature     float32 `mapstructure:"temperature"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
}

// EmbeddingConfig 向量化配置
type EmbeddingConfig struct {
	Provider       string        `mapstructure:"provider"` // gemini, openai
	Model          string        `mapstructure:"model"`
	Dimension      int           `mapstructure:"dimension"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	Burst          int           `mapstructure:"burst"`
	CacheEnabled   bool          `mapstructure:"cache_enabled"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// GeminiConfig Gemini 配置（embedding 走 API Key，生成走 Vertex AI）
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	ProjectID      string `mapstructure:"project_id"`
	Location       string `mapstructure:"location"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OpenAIConfig OpenAI 兼容接口配置
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	OrgID   string `mapstructure:"org_id"`
}

// RagConfig RAG 相关配置
type RagConfig struct {
	Chunk       ChunkConfig       `mapstructure:"chunk"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion"`
	TopK        int               `mapstructure:"top_k"`
}

// ChunkConfig 分块配置
type ChunkConfig struct {
	Size       int      `mapstructure:"size"`
	Overlap    int      `mapstructure:"overlap"`
	Separators []string `mapstructure:"separators"`
}

// VectorStoreConfig 向量存储配置
type VectorStoreConfig struct {
	Type            string         `mapstructure:"type"` // qdrant, pgvector, memory
	Collection      string         `mapstructure:"collection"`
	VectorDimension int            `mapstructure:"vector_dimension"`
	Distance        string         `mapstructure:"distance"` // cosine, l2
	BatchSize       int            `mapstructure:"batch_size"`
	Qdrant          QdrantConfig   `mapstructure:"qdrant"`
	PGVector        PGVectorConfig `mapstructure:"pgvector"`
}

// QdrantConfig Qdrant 外部向量数据库配置
type QdrantConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PGVectorConfig pgvector 配置，复用主数据库连接
type PGVectorConfig struct {
	Table string `mapstructure:"table"`
}

// IngestionConfig 入库流程的各阶段预算
type IngestionConfig struct {
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	UpsertTimeout     time.Duration `mapstructure:"upsert_timeout"`
	UpsertAttempts    int           `mapstructure:"upsert_attempts"`
	UpsertRetryDelay  time.Duration `mapstructure:"upsert_retry_delay"`
	PersistTimeout    time.Duration `mapstructure:"persist_timeout"`
}

// WorstCase 一次入库最长耗时：读取与落盘各占一个 read_timeout，其余阶段按各自预算
func (c IngestionConfig) WorstCase() time.Duration {
	return 2*c.ReadTimeout + c.ProcessingTimeout + c.UpsertTimeout + c.PersistTimeout
}

// StorageConfig 原始文件存储
type StorageConfig struct {
	Type      string `mapstructure:"type"` // local, gcs
	LocalPath string `mapstructure:"local_path"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// QueueConfig 异步任务配置
type QueueConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
	MaxRetry    int  `mapstructure:"max_retry"`
}

var globalConfig *Config

// setDefaults 与原系统保持一致的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 60)
	v.SetDefault("server.write_timeout", 600)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.slow_threshold_ms", 200)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("ai.embedding.provider", "gemini")
	v.SetDefault("ai.embedding.model", "text-embedding-004")
	v.SetDefault("ai.embedding.dimension", 768)
	v.SetDefault("ai.embedding.requests_per_sec", 5)
	v.SetDefault("ai.embedding.burst", 5)
	v.SetDefault("ai.embedding.cache_ttl", "24h")
	v.SetDefault("ai.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("ai.gemini.location", "us-central1")
	v.SetDefault("ai.gemini.timeout_seconds", 60)
	v.SetDefault("ai.grok.base_url", "https://api.x.ai/v1")
	v.SetDefault("ai.chat.default_provider", "gemini")
	v.SetDefault("ai.chat.default_model", "gemini-1.5-pro")
	v.SetDefault("ai.chat.history_tokens", 2000)
	v.SetDefault("ai.chat.temperature", 0.3)
	v.SetDefault("ai.chat.timeout_seconds", 120)

	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.chunk.size", 1000)
	v.SetDefault("rag.chunk.overlap", 200)
	v.SetDefault("rag.vector_store.type", "qdrant")
	v.SetDefault("rag.vector_store.collection", "document_chunks")
	v.SetDefault("rag.vector_store.vector_dimension", 768)
	v.SetDefault("rag.vector_store.distance", "cosine")
	v.SetDefault("rag.vector_store.batch_size", 100)
	v.SetDefault("rag.vector_store.qdrant.endpoint", "http://localhost:6333")
	v.SetDefault("rag.vector_store.qdrant.timeout_seconds", 30)
	v.SetDefault("rag.vector_store.pgvector.table", "chunk_vectors")
	v.SetDefault("rag.ingestion.max_file_size", 50<<20)
	v.SetDefault("rag.ingestion.read_timeout", "30s")
	v.SetDefault("rag.ingestion.processing_timeout", "5m")
	v.SetDefault("rag.ingestion.upsert_timeout", "2m")
	v.SetDefault("rag.ingestion.upsert_attempts", 3)
	v.SetDefault("rag.ingestion.upsert_retry_delay", "2s")
	v.SetDefault("rag.ingestion.persist_timeout", "1m")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./uploads")

	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.concurrency", 5)
	v.SetDefault("queue.max_retry", 5)
}

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_DATABASE_HOST
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 没有配置文件时只用默认值 + 环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Validate 校验互相约束的配置项
func (c *Config) Validate() error {
	ch := c.RAG.Chunk
	if ch.Size <= 0 {
		return fmt.Errorf("rag.chunk.size 必须大于 0")
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.Size {
		return fmt.Errorf("rag.chunk.overlap 必须满足 0 <= overlap < size")
	}
	vs := c.RAG.VectorStore
	switch vs.Type {
	case "qdrant", "pgvector", "memory":
	default:
		return fmt.Errorf("不支持的向量存储类型: %q", vs.Type)
	}
	if vs.VectorDimension <= 0 {
		return fmt.Errorf("rag.vector_store.vector_dimension 必须大于 0")
	}
	if c.AI.Embedding.Dimension > 0 && c.AI.Embedding.Dimension != vs.VectorDimension {
		return fmt.Errorf("embedding 维度 %d 与向量库维度 %d 不一致", c.AI.Embedding.Dimension, vs.VectorDimension)
	}
	if c.RAG.Ingestion.UpsertAttempts < 1 {
		return fmt.Errorf("rag.ingestion.upsert_attempts 至少为 1")
	}
	// 上传接口同步返回入库结果，写超时必须覆盖全部阶段预算
	if wt := time.Duration(c.Server.WriteTimeout) * time.Second; wt > 0 && wt <= c.RAG.Ingestion.WorstCase() {
		return fmt.Errorf("server.write_timeout (%s) 必须大于入库总预算 %s", wt, c.RAG.Ingestion.WorstCase())
	}
	switch c.Storage.Type {
	case "local", "gcs":
	default:
		return fmt.Errorf("不支持的文件存储类型: %q", c.Storage.Type)
	}
	if c.Storage.Type == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket 不能为空")
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
