package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorResponse(t *testing.T) {
	t.Run("流水线错误", func(t *testing.T) {
		err := rag.TimeoutError(rag.StageEmbedding, time.Second, errors.New("context deadline exceeded"))
		resp := NewErrorResponse(rag.HTTPStatus(err), err)
		assert.Equal(t, "timeout: stage exceeded its time budget", resp.Error)
		assert.Equal(t, "context deadline exceeded", resp.Details)
	})

	t.Run("未分类的服务端错误", func(t *testing.T) {
		resp := NewErrorResponse(http.StatusInternalServerError, errors.New("boom"))
		assert.Equal(t, "internal server error", resp.Error)
		assert.Equal(t, "boom", resp.Details)
	})

	t.Run("未找到", func(t *testing.T) {
		err := fmt.Errorf("%w: chat abc", rag.ErrNotFound)
		resp := NewErrorResponse(rag.HTTPStatus(err), err)
		assert.Equal(t, "not found: chat abc", resp.Error)
		assert.Empty(t, resp.Details)
	})
}

func TestErrorWritesStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, rag.ValidationError("question is required"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation error: question is required", body["error"])
	_, hasDetails := body["details"]
	assert.False(t, hasDetails)
}

func TestQueryInt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?limit=5&bad=x", nil)

	n, err := QueryInt(c, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = QueryInt(c, "offset", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = QueryInt(c, "bad", 0)
	assert.Error(t, err)
}
