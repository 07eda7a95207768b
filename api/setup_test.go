package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"ragchat/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		AI: config.AIConfig{
			Embedding: config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 4},
			Chat:      config.ChatConfig{DefaultProvider: "grok", DefaultModel: "grok-2", TimeoutSeconds: 5},
		},
		RAG: config.RagConfig{
			TopK:  5,
			Chunk: config.ChunkConfig{Size: 1000, Overlap: 200},
			VectorStore: config.VectorStoreConfig{
				Type:            "memory",
				VectorDimension: 4,
				Distance:        "cosine",
			},
		},
		Storage: config.StorageConfig{Type: "local", LocalPath: t.TempDir()},
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *AppContainer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(Models()...))

	c, err := InitContainer(context.Background(), db, testConfig(t), zaptest.NewLogger(t), ContainerOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.Nil(t, c.Queue)
	assert.Nil(t, c.WorkerServer)

	router, limiter := SetupRouter(c)
	t.Cleanup(limiter.Stop)
	return router, c
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, int64(0), resp.Vectors)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRoutesWired(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("非 PDF 上传在处理前被拒绝", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "notes.txt")
		require.NoError(t, err)
		_, _ = part.Write([]byte("plain text"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	})

	t.Run("空文档列表", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"documents":[]`)
	})

	t.Run("文档不存在", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/documents/42", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("空问题", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"  "}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("会话列表", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestBuildVectorStoreRejectsUnknownType(t *testing.T) {
	cfg := testConfig(t)
	cfg.RAG.VectorStore.Type = "milvus"
	_, err := BuildVectorStore(cfg, nil)
	require.Error(t, err)
}
