package handlers

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
	"go.uber.org/zap/zaptest"
)

type recordingReconciler struct {
	got []rag.OrphanRecord
	err error
}

func (r *recordingReconciler) Reconcile(_ context.Context, orphan rag.OrphanRecord) error {
	r.got = append(r.got, orphan)
	return r.err
}

func newCleanupTask(t *testing.T, p tasks.CleanupIngestionPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeCleanupIngestion, data)
}

func TestHandleCleanupIngestion(t *testing.T) {
	rec := &recordingReconciler{}
	h := NewCleanupHandler(rec, zaptest.NewLogger(t))

	task := newCleanupTask(t, tasks.CleanupIngestionPayload{DocumentID: 7, StoredFilename: "7.pdf", VectorsWritten: true})
	require.NoError(t, h.HandleCleanupIngestion(context.Background(), task))

	require.Len(t, rec.got, 1)
	assert.Equal(t, rag.OrphanRecord{DocumentID: 7, StoredFilename: "7.pdf", VectorsWritten: true}, rec.got[0])
}

func TestHandleCleanupIngestionInvalidPayload(t *testing.T) {
	rec := &recordingReconciler{}
	h := NewCleanupHandler(rec, zaptest.NewLogger(t))

	err := h.HandleCleanupIngestion(context.Background(), asynq.NewTask(tasks.TypeCleanupIngestion, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = h.HandleCleanupIngestion(context.Background(), newCleanupTask(t, tasks.CleanupIngestionPayload{}))
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, rec.got)
}

func TestHandleCleanupIngestionRetriesOnFailure(t *testing.T) {
	rec := &recordingReconciler{err: errors.New("qdrant down")}
	h := NewCleanupHandler(rec, zaptest.NewLogger(t))

	err := h.HandleCleanupIngestion(context.Background(), newCleanupTask(t, tasks.CleanupIngestionPayload{DocumentID: 3}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
