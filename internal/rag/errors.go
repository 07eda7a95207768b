package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// 错误分类哨兵，调用方用 errors.Is 分支
var (
	ErrValidation       = errors.New("validation error")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrTooLarge         = errors.New("payload too large")
	ErrExtraction       = errors.New("extraction error")
	ErrEmbedding        = errors.New("embedding provider error")
	ErrVectorStore      = errors.New("vector store error")
	ErrPersistence      = errors.New("persistence error")
	ErrTimeout          = errors.New("timeout")
	ErrCancelled        = errors.New("cancelled")
	ErrRetrieval        = errors.New("retrieval error")
	ErrNotFound         = errors.New("not found")
)

// StatusClientClosedRequest nginx 约定的客户端断开状态码
const StatusClientClosedRequest = 499

// Stage 入库/检索流水线阶段
type Stage string

const (
	StageReceived   Stage = "received"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageUpserting  Stage = "upserting"
	StagePersisting Stage = "persisting"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
	StageSearching  Stage = "searching"
)

// Error 流水线错误，Kind 为上面的哨兵之一
type Error struct {
	Kind    error
	Stage   Stage
	Message string
	// Details 保留底层错误文本，仅用于诊断
	Details string
	// Budget 超时时的阶段预算
	Budget time.Duration
	// BatchIndex 向量写入失败的第一个批次，-1 表示不适用
	BatchIndex int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Budget > 0 {
		fmt.Fprintf(&b, " (budget %s)", e.Budget)
	}
	if e.BatchIndex >= 0 && errors.Is(e.Kind, ErrVectorStore) {
		fmt.Fprintf(&b, " (batch %d)", e.BatchIndex)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap 同时暴露分类哨兵与底层原因
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, stage Stage, msg string, cause error) *Error {
	e := &Error{Kind: kind, Stage: stage, Message: msg, Err: cause, BatchIndex: -1}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// ValidationError 输入非法
func ValidationError(msg string) *Error {
	return newError(ErrValidation, StageReceived, msg, nil)
}

// TimeoutError 阶段超出预算
func TimeoutError(stage Stage, budget time.Duration, cause error) *Error {
	e := newError(ErrTimeout, stage, "stage exceeded its time budget", cause)
	e.Budget = budget
	return e
}

// CancelledError 调用方主动取消
func CancelledError(stage Stage, cause error) *Error {
	return newError(ErrCancelled, stage, "request cancelled by caller", cause)
}

// VectorStoreBatchError 某个批次写入失败
func VectorStoreBatchError(batch int, cause error) *Error {
	e := newError(ErrVectorStore, StageUpserting, "upsert batch failed", cause)
	e.BatchIndex = batch
	return e
}

// KindOf 返回错误的分类哨兵，未分类时返回 nil
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// StageOf 返回失败阶段
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// DetailsOf 返回诊断信息
func DetailsOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// classifyContext 把 context 错误转换为超时/取消
func classifyContext(err error, stage Stage, budget time.Duration) (*Error, bool) {
	switch {
	case errors.Is(err, context.Canceled):
		return CancelledError(stage, err), true
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutError(stage, budget, err), true
	}
	return nil, false
}

// HTTPStatus 错误分类到 HTTP 状态码
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnsupportedMedia):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrCancelled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
