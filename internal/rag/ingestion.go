package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"ragchat/internal/logger"
	"ragchat/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "ragchat/internal/rag"

// Extractor 文本提取器
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// FileStore 原始文件存储
type FileStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}

// OrphanRecord 入库失败后可能残留的数据
type OrphanRecord struct {
	DocumentID     int64  `json:"document_id"`
	StoredFilename string `json:"stored_filename,omitempty"`
	VectorsWritten bool   `json:"vectors_written"`
}

// Reconciler 调度孤儿数据清理
type Reconciler interface {
	ScheduleCleanup(ctx context.Context, orphan OrphanRecord) error
}

// IngestionOptions 各阶段预算
type IngestionOptions struct {
	MaxFileSize       int64
	ReadTimeout       time.Duration
	ProcessingTimeout time.Duration
	UpsertTimeout     time.Duration
	UpsertAttempts    int
	UpsertRetryDelay  time.Duration
	PersistTimeout    time.Duration
}

// DefaultIngestionOptions 默认预算
func DefaultIngestionOptions() IngestionOptions {
	return IngestionOptions{
		MaxFileSize:       50 << 20,
		ReadTimeout:       30 * time.Second,
		ProcessingTimeout: 5 * time.Minute,
		UpsertTimeout:     2 * time.Minute,
		UpsertAttempts:    3,
		UpsertRetryDelay:  2 * time.Second,
		PersistTimeout:    time.Minute,
	}
}

// IngestRequest 一次上传
type IngestRequest struct {
	Filename    string
	ContentType string
	// Size 客户端声明的大小，未知时为 -1
	Size int64
	Body io.Reader
}

// IngestResult 入库摘要
type IngestResult struct {
	DocumentID       int64  `json:"documentId"`
	OriginalFilename string `json:"originalFilename"`
	ChunkCount       int    `json:"chunkCount"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// TransitionFunc 状态迁移回调
type TransitionFunc func(documentID int64, from, to Stage)

// IngestorDeps 入库流水线依赖
type IngestorDeps struct {
	Extractor    Extractor
	Chunker      *Chunker
	Embedder     EmbeddingProvider
	Store        VectorStore
	Documents    DocumentRepository
	Files        FileStore
	Reconciler   Reconciler
	IDs          *IDGenerator
	Logger       *zap.Logger
	OnTransition TransitionFunc
}

// Ingestor 入库编排：提取 → 分块 → 向量化 → 写向量库 → 落库，严格顺序执行
type Ingestor struct {
	deps   IngestorDeps
	opts   IngestionOptions
	logger *zap.Logger
	tracer trace.Tracer
}

// NewIngestor 创建入库编排器
func NewIngestor(deps IngestorDeps, opts IngestionOptions) *Ingestor {
	def := DefaultIngestionOptions()
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = def.MaxFileSize
	}
	if opts.UpsertAttempts <= 0 {
		opts.UpsertAttempts = def.UpsertAttempts
	}
	if deps.Chunker == nil {
		deps.Chunker = NewChunker()
	}
	if deps.IDs == nil {
		deps.IDs = NewIDGenerator()
	}
	return &Ingestor{
		deps:   deps,
		opts:   opts,
		logger: logger.OrNop(deps.Logger).Named("ingestion"),
		tracer: otel.Tracer(tracerName),
	}
}

// MaxFileSize 上传大小上限
func (in *Ingestor) MaxFileSize() int64 { return in.opts.MaxFileSize }

// ingestionRun 单次入库的可变状态
type ingestionRun struct {
	in         *Ingestor
	log        *zap.Logger
	docID      int64
	state      Stage
	storedName string
	fileSaved  bool
	upserted   bool
}

func (r *ingestionRun) transition(to Stage) {
	from := r.state
	r.state = to
	r.log.Debug("入库状态迁移", zap.String("from", string(from)), zap.String("to", string(to)))
	if cb := r.in.deps.OnTransition; cb != nil {
		cb(r.docID, from, to)
	}
}

// Ingest 执行一次入库，返回成功摘要或单一分类错误
func (in *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	started := time.Now()
	ctx, span := in.tracer.Start(ctx, "rag.Ingest", trace.WithAttributes(attribute.String("file.name", req.Filename)))
	defer span.End()

	run := &ingestionRun{in: in, log: logger.FromContext(ctx, in.logger), state: StageReceived}
	res, err := in.ingest(ctx, run, req, started)
	if err != nil {
		stage := run.state
		run.transition(StageFailed)
		err = tagStage(err, stage)
		span.RecordError(err)
		span.SetStatus(codes.Error, KindLabel(err))
		metrics.IngestionsTotal.WithLabelValues(KindLabel(err)).Inc()
		run.log.Warn("文档入库失败",
			zap.String("file", req.Filename),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
		in.scheduleCleanup(ctx, run)
		return nil, err
	}

	run.transition(StageCompleted)
	metrics.IngestionsTotal.WithLabelValues("completed").Inc()
	metrics.IngestionChunks.Observe(float64(res.ChunkCount))
	span.SetAttributes(attribute.Int64("document.id", res.DocumentID), attribute.Int("chunk.count", res.ChunkCount))
	run.log.Info("文档入库完成",
		zap.Int64("document_id", res.DocumentID),
		zap.String("file", res.OriginalFilename),
		zap.Int("chunks", res.ChunkCount),
		zap.Int64("elapsed_ms", res.ProcessingTimeMs),
	)
	return res, nil
}

func (in *Ingestor) ingest(ctx context.Context, run *ingestionRun, req IngestRequest, started time.Time) (*IngestResult, error) {
	// 预检查，不产生任何副作用
	if err := in.validate(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, CancelledError(StageReceived, err)
	}

	data, err := in.readBody(ctx, run, req)
	if err != nil {
		return nil, err
	}

	run.docID = in.deps.IDs.Next()
	run.log = run.log.With(zap.Int64("document_id", run.docID))
	run.storedName = fmt.Sprintf("%d.pdf", run.docID)

	if in.deps.Files != nil {
		// 写入前先标记，超时后后台写入仍可能完成
		run.fileSaved = true
		err = in.stage(ctx, run, StageReceived, in.opts.ReadTimeout, func(c context.Context) error {
			if err := in.deps.Files.Save(c, run.storedName, data); err != nil {
				return newError(ErrPersistence, StageReceived, "failed to store uploaded file", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// 提取 + 分块 + 向量化共用一个预算
	procCtx, cancel := withBudget(ctx, in.opts.ProcessingTimeout)
	defer cancel()

	var text string
	run.transition(StageExtracting)
	err = in.within(ctx, procCtx, run, StageExtracting, in.opts.ProcessingTimeout, func(c context.Context) error {
		t, err := in.deps.Extractor.Extract(c, data)
		if err != nil {
			return newError(ErrExtraction, StageExtracting, "could not extract text from document", err)
		}
		if strings.TrimSpace(t) == "" {
			return newError(ErrExtraction, StageExtracting, "document contains no extractable text", nil)
		}
		text = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	run.transition(StageChunking)
	err = in.within(ctx, procCtx, run, StageChunking, in.opts.ProcessingTimeout, func(c context.Context) error {
		chunks = in.deps.Chunker.Split(text, run.docID)
		if len(chunks) == 0 {
			return newError(ErrExtraction, StageChunking, "document produced no chunks", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var vectors [][]float32
	run.transition(StageEmbedding)
	err = in.within(ctx, procCtx, run, StageEmbedding, in.opts.ProcessingTimeout, func(c context.Context) error {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Content
		}
		v, err := in.deps.Embedder.EmbedBatch(c, texts)
		if err != nil {
			if !errors.Is(err, ErrEmbedding) {
				err = EmbeddingError(in.deps.Embedder.GetProviderName(), err)
			}
			return err
		}
		if err := checkBatch(in.deps.Embedder.GetProviderName(), texts, v); err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	cancel()

	points := make([]*Point, len(chunks))
	for i, ch := range chunks {
		points[i] = &Point{
			ChunkID:    ch.ID,
			DocumentID: run.docID,
			ChunkIndex: ch.Index,
			Content:    ch.Content,
			Vector:     vectors[i],
		}
	}

	run.transition(StageUpserting)
	run.upserted = true
	if err := in.stage(ctx, run, StageUpserting, in.opts.UpsertTimeout, func(c context.Context) error {
		return in.upsertWithRetry(c, run, points)
	}); err != nil {
		return nil, err
	}

	chunkJSON, embJSON, err := EncodeArtifacts(chunks, vectors)
	if err != nil {
		return nil, newError(ErrPersistence, StagePersisting, "failed to encode chunk artifacts", err)
	}
	doc := &Document{
		ID:           run.docID,
		Filename:     run.storedName,
		OriginalName: req.Filename,
		Content:      text,
		Chunks:       chunkJSON,
		Embeddings:   embJSON,
		ChunkCount:   len(chunks),
		FileSize:     int64(len(data)),
	}

	run.transition(StagePersisting)
	err = in.stage(ctx, run, StagePersisting, in.opts.PersistTimeout, func(c context.Context) error {
		if err := in.deps.Documents.Create(c, doc); err != nil {
			return newError(ErrPersistence, StagePersisting, "failed to save document record", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &IngestResult{
		DocumentID:       run.docID,
		OriginalFilename: req.Filename,
		ChunkCount:       len(chunks),
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}, nil
}

// validate 媒体类型、声明大小、文件名
func (in *Ingestor) validate(req IngestRequest) error {
	name := strings.TrimSpace(req.Filename)
	if name == "" {
		return ValidationError("file name is required")
	}
	if req.Body == nil {
		return ValidationError("no file provided")
	}
	if !isPDF(req.ContentType, name) {
		return newError(ErrUnsupportedMedia, StageReceived,
			fmt.Sprintf("only PDF files are supported, got %q", req.ContentType), nil)
	}
	if req.Size > in.opts.MaxFileSize {
		return TooLargeError(req.Size, in.opts.MaxFileSize)
	}
	if req.Size == 0 {
		return ValidationError("file is empty")
	}
	return nil
}

// readBody 在调用方 goroutine 内读取上传内容，返回时不再持有 req.Body
func (in *Ingestor) readBody(ctx context.Context, run *ingestionRun, req IngestRequest) ([]byte, error) {
	readCtx, cancel := withBudget(ctx, in.opts.ReadTimeout)
	defer cancel()

	var data []byte
	err := in.observe(readCtx, run, StageReceived, func(c context.Context) error {
		var err error
		data, err = in.materialize(c, req)
		if err != nil && isContextError(err) {
			if cerr := contextFailure(ctx, readCtx, StageReceived, in.opts.ReadTimeout); cerr != nil {
				err = cerr
			}
		}
		return err
	})
	return data, err
}

// materialize 最多读取 max+1 字节，实际大小超限同样拒绝
func (in *Ingestor) materialize(ctx context.Context, req IngestRequest) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(&contextReader{ctx: ctx, r: req.Body}, in.opts.MaxFileSize+1))
	if err != nil {
		if isContextError(err) {
			return nil, err
		}
		return nil, newError(ErrValidation, StageReceived, "failed to read uploaded file", err)
	}
	if int64(len(data)) > in.opts.MaxFileSize {
		return nil, TooLargeError(int64(len(data)), in.opts.MaxFileSize)
	}
	if len(data) == 0 {
		return nil, ValidationError("file is empty")
	}
	return data, nil
}

// contextReader 每次 Read 前检查 context
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// TooLargeError 文件超出上传上限
func TooLargeError(size, limit int64) *Error {
	return newError(ErrTooLarge, StageReceived,
		fmt.Sprintf("file size %d bytes exceeds the %d MiB limit", size, limit>>20), nil)
}

func isPDF(contentType, filename string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "application/pdf", "application/x-pdf":
		return true
	case "", "application/octet-stream":
		return strings.EqualFold(filepath.Ext(filename), ".pdf")
	default:
		return false
	}
}

// upsertWithRetry 固定间隔重试；超时、取消和维度错误不重试
func (in *Ingestor) upsertWithRetry(ctx context.Context, run *ingestionRun, points []*Point) error {
	var lastErr error
	for attempt := 1; attempt <= in.opts.UpsertAttempts; attempt++ {
		err := in.deps.Store.Upsert(ctx, points)
		if err == nil {
			metrics.VectorUpsertAttempts.WithLabelValues("success").Inc()
			if attempt > 1 {
				run.log.Info("向量写入重试成功", zap.Int("attempt", attempt))
			}
			return nil
		}
		metrics.VectorUpsertAttempts.WithLabelValues("failure").Inc()
		if !errors.Is(err, ErrVectorStore) {
			err = newError(ErrVectorStore, StageUpserting, "vector store upsert failed", err)
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrDimensionMismatch) {
			return lastErr
		}
		run.log.Warn("向量写入失败",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", in.opts.UpsertAttempts),
			zap.Error(err),
		)
		if attempt < in.opts.UpsertAttempts {
			if err := sleepContext(ctx, in.opts.UpsertRetryDelay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// stage 在独立预算内执行一个阶段
func (in *Ingestor) stage(ctx context.Context, run *ingestionRun, stage Stage, budget time.Duration, fn func(context.Context) error) error {
	stageCtx, cancel := withBudget(ctx, budget)
	defer cancel()
	return in.within(ctx, stageCtx, run, stage, budget, fn)
}

// within 在 stageCtx 下执行 fn；fn 不响应 context 时也会在预算到期后返回
func (in *Ingestor) within(parent, stageCtx context.Context, run *ingestionRun, stage Stage, budget time.Duration, fn func(context.Context) error) error {
	return in.observe(stageCtx, run, stage, func(spanCtx context.Context) error {
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- newError(stageKind(stage), stage, "stage panicked", fmt.Errorf("panic: %v", r))
				}
			}()
			done <- fn(spanCtx)
		}()

		select {
		case err := <-done:
			if err != nil && isContextError(err) {
				if cerr := contextFailure(parent, stageCtx, stage, budget); cerr != nil {
					err = cerr
				}
			}
			return err
		case <-stageCtx.Done():
			return contextFailure(parent, stageCtx, stage, budget)
		}
	})
}

// observe 为阶段记录 span 与耗时
func (in *Ingestor) observe(ctx context.Context, run *ingestionRun, stage Stage, fn func(context.Context) error) error {
	spanCtx, span := in.tracer.Start(ctx, "rag.ingest."+string(stage))
	defer span.End()
	if run.docID != 0 {
		span.SetAttributes(attribute.Int64("document.id", run.docID))
	}
	begin := time.Now()
	defer func() {
		metrics.IngestionStageDuration.WithLabelValues(string(stage)).Observe(time.Since(begin).Seconds())
	}()

	err := fn(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindLabel(err))
	}
	return err
}

// contextFailure 父 context 结束视为取消，否则视为本阶段超时
func contextFailure(parent, stageCtx context.Context, stage Stage, budget time.Duration) error {
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return TimeoutError(stage, budget, err)
		}
		return CancelledError(stage, err)
	}
	if err := stageCtx.Err(); err != nil {
		return TimeoutError(stage, budget, err)
	}
	return nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// scheduleCleanup 有持久副作用时投递清理任务，使用独立 context
func (in *Ingestor) scheduleCleanup(ctx context.Context, run *ingestionRun) {
	if !run.fileSaved && !run.upserted {
		return
	}
	orphan := OrphanRecord{DocumentID: run.docID, VectorsWritten: run.upserted}
	if run.fileSaved {
		orphan.StoredFilename = run.storedName
	}
	if in.deps.Reconciler == nil {
		run.log.Warn("入库失败可能残留数据，未配置清理任务", zap.Any("orphan", orphan))
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := in.deps.Reconciler.ScheduleCleanup(cctx, orphan); err != nil {
		metrics.ReconcileTasksTotal.WithLabelValues("enqueue_failed").Inc()
		run.log.Error("投递清理任务失败", zap.Any("orphan", orphan), zap.Error(err))
		return
	}
	metrics.ReconcileTasksTotal.WithLabelValues("enqueued").Inc()
}

// stageKind 阶段对应的默认错误分类
func stageKind(stage Stage) error {
	switch stage {
	case StageExtracting, StageChunking:
		return ErrExtraction
	case StageEmbedding:
		return ErrEmbedding
	case StageUpserting:
		return ErrVectorStore
	default:
		return ErrPersistence
	}
}

// tagStage 未分类错误归入当前阶段
func tagStage(err error, stage Stage) error {
	var e *Error
	if errors.As(err, &e) {
		if e.Stage == "" {
			e.Stage = stage
		}
		return err
	}
	return newError(stageKind(stage), stage, "unexpected failure", err)
}

// KindLabel 错误分类的短名称，用于指标与日志
func KindLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrUnsupportedMedia):
		return "unsupported_media"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrEmbedding):
		return "embedding"
	case errors.Is(err, ErrVectorStore):
		return "vector_store"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrRetrieval):
		return "retrieval"
	default:
		return "internal"
	}
}
