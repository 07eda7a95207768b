package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"too large", newError(ErrTooLarge, StageReceived, "big", nil), http.StatusRequestEntityTooLarge},
		{"validation", ValidationError("bad"), http.StatusBadRequest},
		{"unsupported media", newError(ErrUnsupportedMedia, StageReceived, "docx", nil), http.StatusBadRequest},
		{"not found", newError(ErrNotFound, "", "missing", nil), http.StatusNotFound},
		{"timeout", TimeoutError(StageUpserting, time.Second, context.DeadlineExceeded), http.StatusRequestTimeout},
		{"cancelled", CancelledError(StageEmbedding, context.Canceled), StatusClientClosedRequest},
		{"extraction", newError(ErrExtraction, StageExtracting, "corrupt", nil), http.StatusInternalServerError},
		{"vector store", VectorStoreBatchError(2, errors.New("boom")), http.StatusInternalServerError},
		{"plain", errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestErrorUnwrapExposesKindAndCause(t *testing.T) {
	cause := fmt.Errorf("dial: %w", context.DeadlineExceeded)
	err := TimeoutError(StageUpserting, 2*time.Minute, cause)

	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StageUpserting, StageOf(err))
	assert.Equal(t, ErrTimeout, KindOf(err))
	assert.Contains(t, err.Error(), "budget 2m0s")
	assert.Equal(t, cause.Error(), DetailsOf(err))
}

func TestVectorStoreBatchErrorMessage(t *testing.T) {
	err := VectorStoreBatchError(3, errors.New("503"))
	assert.Equal(t, 3, err.BatchIndex)
	assert.Contains(t, err.Error(), "(batch 3)")

	wrapped := fmt.Errorf("ingest: %w", err)
	assert.ErrorIs(t, wrapped, ErrVectorStore)
	assert.Equal(t, StageUpserting, StageOf(wrapped))
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "ok", KindLabel(nil))
	assert.Equal(t, "timeout", KindLabel(TimeoutError(StageEmbedding, 0, nil)))
	assert.Equal(t, "too_large", KindLabel(newError(ErrTooLarge, StageReceived, "", nil)))
	assert.Equal(t, "internal", KindLabel(errors.New("x")))
}
