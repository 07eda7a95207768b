package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ragchat/internal/rag"
	"ragchat/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestScheduleCleanupEnqueuesPayload(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := NewClientWith(fake, 3)

	err := client.ScheduleCleanup(context.Background(), rag.OrphanRecord{
		DocumentID:     42,
		StoredFilename: "42.pdf",
		VectorsWritten: true,
	})
	require.NoError(t, err)
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, tasks.TypeCleanupIngestion, fake.tasks[0].Type())

	var p tasks.CleanupIngestionPayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &p))
	assert.Equal(t, int64(42), p.DocumentID)
	assert.Equal(t, "42.pdf", p.StoredFilename)
	assert.True(t, p.VectorsWritten)

	var queue, taskID string
	var maxRetry int
	for _, o := range fake.opts[0] {
		switch o.Type() {
		case asynq.QueueOpt:
			queue = o.Value().(string)
		case asynq.TaskIDOpt:
			taskID = o.Value().(string)
		case asynq.MaxRetryOpt:
			maxRetry = o.Value().(int)
		}
	}
	assert.Equal(t, tasks.QueueRAG, queue)
	assert.Equal(t, "cleanup:42", taskID)
	assert.Equal(t, 3, maxRetry)
}

func TestScheduleCleanupIgnoresDuplicateTask(t *testing.T) {
	client := NewClientWith(&fakeEnqueuer{err: asynq.ErrTaskIDConflict}, 0)
	require.NoError(t, client.ScheduleCleanup(context.Background(), rag.OrphanRecord{DocumentID: 1}))
}

func TestScheduleCleanupReturnsEnqueueError(t *testing.T) {
	client := NewClientWith(&fakeEnqueuer{err: errors.New("redis down")}, 0)
	err := client.ScheduleCleanup(context.Background(), rag.OrphanRecord{DocumentID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}
