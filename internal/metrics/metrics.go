package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchat_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIRequestSize API 请求体大小（字节），上传接口是主要来源
	APIRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchat_api_request_size_bytes",
			Help:    "API 请求体大小分布",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"method", "path"},
	)
)

// 入库指标
var (
	// IngestionsTotal 入库结果，status 为 completed 或错误分类
	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_ingestions_total",
			Help: "文档入库总数",
		},
		[]string{"status"},
	)

	// IngestionStageDuration 各阶段耗时（秒）
	IngestionStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragchat_ingestion_stage_duration_seconds",
			Help:    "入库各阶段耗时分布",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// IngestionChunks 每份文档的分块数
	IngestionChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragchat_ingestion_chunks",
			Help:    "每份文档的分块数分布",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// VectorUpsertAttempts 向量写入尝试次数，result 为 success 或 failure
	VectorUpsertAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_vector_upsert_attempts_total",
			Help: "向量写入尝试次数",
		},
		[]string{"result"},
	)

	// ReconcileTasksTotal 孤儿数据清理任务
	ReconcileTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_reconcile_tasks_total",
			Help: "入库失败后的清理任务数",
		},
		[]string{"event"},
	)
)

// 检索与对话指标
var (
	// RetrievalsTotal 检索总数
	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_retrievals_total",
			Help: "检索总数",
		},
		[]string{"status"},
	)

	// RetrievalDuration 检索耗时（秒）
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragchat_retrieval_duration_seconds",
			Help:    "检索耗时分布",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	// RetrievalResults 检索返回结果数
	RetrievalResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragchat_retrieval_results",
			Help:    "检索返回结果数量分布",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// GenerationsTotal 回答生成次数
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragchat_generations_total",
			Help: "LLM 回答生成次数",
		},
		[]string{"provider", "status"},
	)
)
