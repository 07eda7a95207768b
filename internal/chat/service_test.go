package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ragchat/internal/rag"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(AllModels()...))
	return NewRepository(db)
}

type stubRetriever struct {
	results []*rag.RetrievalResult
	err     error
}

func (r *stubRetriever) Retrieve(context.Context, string, int) ([]*rag.RetrievalResult, error) {
	return r.results, r.err
}

type stubGenerator struct {
	answer string
	err    error
	got    []GenerateRequest
}

func (g *stubGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	g.got = append(g.got, req)
	return g.answer, g.err
}

func (g *stubGenerator) Provider() ProviderKind { return ProviderGrok }

type stubFactory struct {
	gen   *stubGenerator
	model *AIModelConfig
}

func (f *stubFactory) For(_ context.Context, m *AIModelConfig) (Generator, error) {
	f.model = m
	return f.gen, nil
}

func TestAskCreatesChatAndSavesExchange(t *testing.T) {
	repo := newTestRepo(t)
	gen := &stubGenerator{answer: "Section B says hello."}
	retriever := &stubRetriever{results: []*rag.RetrievalResult{{ChunkID: 1, Content: "Section B content", Score: 0.9}}}
	svc := NewService(repo, retriever, &stubFactory{gen: gen}, Options{TopK: 5}, nil)
	ctx := context.Background()

	question := strings.Repeat("what is in section B ", 5)
	res, err := svc.Ask(ctx, AskRequest{Message: question})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Len(t, res.Sources, 1)
	assert.Equal(t, "Section B says hello.", res.Message.Content)

	chat, err := repo.GetChat(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, ChatTitle(question), chat.Title)
	assert.True(t, strings.HasSuffix(chat.Title, "..."))

	require.Len(t, gen.got, 1)
	assert.Equal(t, DefaultPromptTemplate, gen.got[0].System)
	assert.Contains(t, gen.got[0].Prompt, "Section B content")
	assert.Empty(t, gen.got[0].History)

	msgs, err := repo.ListMessages(ctx, res.ChatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)

	_, err = svc.Ask(ctx, AskRequest{ChatID: res.ChatID, Message: "and section C?"})
	require.NoError(t, err)
	require.Len(t, gen.got, 2)
	assert.Len(t, gen.got[1].History, 2)
}

func TestAskDegradesWhenRetrievalFails(t *testing.T) {
	repo := newTestRepo(t)
	gen := &stubGenerator{answer: "general answer"}
	svc := NewService(repo, &stubRetriever{err: errors.New("qdrant down")}, &stubFactory{gen: gen}, Options{}, nil)

	res, err := svc.Ask(context.Background(), AskRequest{Message: "hello?"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Sources)
	assert.NotContains(t, gen.got[0].Prompt, "Document context")
}

func TestAskUsesActiveContextSettingAndModel(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	setting := &ContextSetting{Name: "norms", PromptTemplate: "You answer questions about fire codes."}
	require.NoError(t, repo.CreateContextSetting(ctx, setting))
	require.NoError(t, repo.ActivateContextSetting(ctx, setting.ID))
	model := &AIModelConfig{Provider: "grok", Model: "grok-2"}
	require.NoError(t, repo.CreateModel(ctx, model))
	require.NoError(t, repo.ActivateModel(ctx, model.ID))

	gen := &stubGenerator{answer: "ok"}
	factory := &stubFactory{gen: gen}
	svc := NewService(repo, &stubRetriever{}, factory, Options{}, nil)

	_, err := svc.Ask(ctx, AskRequest{Message: "q"})
	require.NoError(t, err)
	assert.Equal(t, setting.PromptTemplate, gen.got[0].System)
	require.NotNil(t, factory.model)
	assert.Equal(t, model.ID, factory.model.ID)
}

func TestAskGenerationFailureSavesNothing(t *testing.T) {
	repo := newTestRepo(t)
	gen := &stubGenerator{err: fmt.Errorf("%w: quota", ErrGeneration)}
	svc := NewService(repo, &stubRetriever{}, &stubFactory{gen: gen}, Options{}, nil)

	chat, err := repo.CreateChat(context.Background(), "t")
	require.NoError(t, err)
	_, err = svc.Ask(context.Background(), AskRequest{ChatID: chat.ID, Message: "q"})
	require.ErrorIs(t, err, ErrGeneration)

	msgs, err := repo.ListMessages(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAskGenerationFailureLeavesNoChat(t *testing.T) {
	repo := newTestRepo(t)
	gen := &stubGenerator{err: fmt.Errorf("%w: quota", ErrGeneration)}
	svc := NewService(repo, &stubRetriever{}, &stubFactory{gen: gen}, Options{}, nil)

	_, err := svc.Ask(context.Background(), AskRequest{Message: "q"})
	require.ErrorIs(t, err, ErrGeneration)

	chats, err := repo.ListChats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chats)

	gen.err = nil
	res, err := svc.Ask(context.Background(), AskRequest{Message: "q"})
	require.NoError(t, err)
	require.NotEmpty(t, res.ChatID)
	chats, err = repo.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, res.ChatID, chats[0].ID)
	msgs, err := repo.ListMessages(context.Background(), res.ChatID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestAskValidation(t *testing.T) {
	svc := NewService(newTestRepo(t), &stubRetriever{}, &stubFactory{gen: &stubGenerator{}}, Options{}, nil)

	_, err := svc.Ask(context.Background(), AskRequest{Message: "  "})
	require.ErrorIs(t, err, rag.ErrValidation)

	_, err = svc.Ask(context.Background(), AskRequest{ChatID: "missing", Message: "q"})
	require.ErrorIs(t, err, rag.ErrNotFound)
}

func TestGrokGeneratorSendsHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer xai-test", r.Header.Get("Authorization"))
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "grok-2", req.Model)
		if assert.Len(t, req.Messages, 4) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "assistant", req.Messages[2].Role)
			assert.Equal(t, "Question?", req.Messages[3].Content)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","model":"grok-2","choices":[{"index":0,"message":{"role":"assistant","content":" Answer. "},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	gen, err := NewGrokGenerator(GrokOptions{APIKey: "xai-test", BaseURL: server.URL, Model: "grok-2"})
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), GenerateRequest{
		System:  "sys",
		History: []Turn{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
		Prompt:  "Question?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Answer.", out)
}

func TestGrokGeneratorRequiresKey(t *testing.T) {
	_, err := NewGrokGenerator(GrokOptions{})
	require.Error(t, err)
}
