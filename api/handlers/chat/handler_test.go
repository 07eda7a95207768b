package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	chatsvc "ragchat/internal/chat"
	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) *chatsvc.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(chatsvc.AllModels()...))
	return chatsvc.NewRepository(db)
}

type stubAsker struct {
	got []chatsvc.AskRequest
	res *chatsvc.AskResult
	err error
}

func (s *stubAsker) Ask(_ context.Context, req chatsvc.AskRequest) (*chatsvc.AskResult, error) {
	s.got = append(s.got, req)
	return s.res, s.err
}

func newRouter(asker Asker, repo *chatsvc.Repository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	ch := NewChatHandler(asker, repo)
	mh := NewModelHandler(repo)
	r := gin.New()
	r.POST("/api/chat", ch.Ask)
	r.GET("/api/chats", ch.ListChats)
	r.GET("/api/chats/:id/messages", ch.ListMessages)
	r.DELETE("/api/chats/:id", ch.DeleteChat)
	r.GET("/api/ai-models", mh.ListModels)
	r.POST("/api/ai-models", mh.CreateModel)
	r.POST("/api/ai-models/:id/activate", mh.ActivateModel)
	r.GET("/api/context-settings", mh.ListContextSettings)
	r.POST("/api/context-settings", mh.CreateContextSetting)
	r.POST("/api/context-settings/:id/activate", mh.ActivateContextSetting)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestAskHandler(t *testing.T) {
	asker := &stubAsker{res: &chatsvc.AskResult{ChatID: "c1", Message: &chatsvc.Message{Role: chatsvc.RoleAssistant, Content: "hi"}}}
	r := newRouter(asker, newTestRepo(t))

	w := do(r, http.MethodPost, "/api/chat", `{"chatId":"c1","question":"what?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, asker.got, 1)
	assert.Equal(t, chatsvc.AskRequest{ChatID: "c1", Message: "what?"}, asker.got[0])

	asker.err = rag.ValidationError("message is required")
	w = do(r, http.MethodPost, "/api/chat", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	asker.err = fmt.Errorf("%w: quota", chatsvc.ErrGeneration)
	w = do(r, http.MethodPost, "/api/chat", `{"message":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestChatListingAndDelete(t *testing.T) {
	repo := newTestRepo(t)
	r := newRouter(&stubAsker{}, repo)
	ctx := context.Background()

	c, err := repo.CreateChat(ctx, "first")
	require.NoError(t, err)
	_, _, err = repo.SaveExchange(ctx, c, "q", "a")
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/chats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var chats ChatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chats))
	require.Len(t, chats.Chats, 1)

	w = do(r, http.MethodGet, "/api/chats/"+c.ID+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	var msgs MessagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, chatsvc.RoleUser, msgs.Messages[0].Role)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/api/chats/"+c.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/chats/"+c.ID+"/messages", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/api/chats/"+c.ID, "").Code)
}

func TestModelEndpoints(t *testing.T) {
	r := newRouter(&stubAsker{}, newTestRepo(t))

	w := do(r, http.MethodPost, "/api/ai-models", `{"name":"grok","provider":"grok","model":"grok-2","apiKey":"xai-secret"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "xai-secret")
	var created struct {
		Model chatsvc.AIModelConfig `json:"model"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Model.ID)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/ai-models", `{"provider":"claude","model":"x"}`).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/ai-models/"+created.Model.ID+"/activate", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/ai-models/missing/activate", "").Code)

	w = do(r, http.MethodGet, "/api/ai-models", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Models []chatsvc.AIModelConfig `json:"models"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Models, 1)
	assert.True(t, list.Models[0].IsActive)
}

func TestContextSettingEndpoints(t *testing.T) {
	r := newRouter(&stubAsker{}, newTestRepo(t))

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/context-settings", `{"name":"empty"}`).Code)

	w := do(r, http.MethodPost, "/api/context-settings", `{"name":"norms","promptTemplate":"Answer about norms."}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Setting chatsvc.ContextSetting `json:"setting"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/context-settings/"+created.Setting.ID+"/activate", "").Code)

	w = do(r, http.MethodGet, "/api/context-settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_active":true`)
}
