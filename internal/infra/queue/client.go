package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ragchat/internal/rag"
	"ragchat/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Enqueuer asynq.Client 的最小子集，便于测试替换
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client 任务队列客户端，实现 rag.Reconciler
type Client struct {
	client   Enqueuer
	maxRetry int
	delay    time.Duration
}

// NewClient 创建任务队列客户端
func NewClient(opt asynq.RedisConnOpt, maxRetry int) *Client {
	return NewClientWith(asynq.NewClient(opt), maxRetry)
}

// NewClientWith 使用已有的 Enqueuer
func NewClientWith(e Enqueuer, maxRetry int) *Client {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &Client{client: e, maxRetry: maxRetry, delay: 30 * time.Second}
}

// ScheduleCleanup 延迟投递清理任务，给仍在进行的写入留出时间；同一文档只保留一个任务
func (c *Client) ScheduleCleanup(ctx context.Context, orphan rag.OrphanRecord) error {
	payload, err := json.Marshal(tasks.CleanupIngestionPayload{
		DocumentID:     orphan.DocumentID,
		StoredFilename: orphan.StoredFilename,
		VectorsWritten: orphan.VectorsWritten,
	})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeCleanupIngestion, payload)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(2*time.Minute),
		asynq.Queue(tasks.QueueRAG),
		asynq.ProcessIn(c.delay),
		asynq.TaskID(fmt.Sprintf("cleanup:%d", orphan.DocumentID)),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.client.Close()
}
