package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/logger"
	"ragchat/internal/metrics"
	"ragchat/internal/rag"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// ContextRetriever 检索相关分块
type ContextRetriever interface {
	Retrieve(ctx context.Context, question string, topK int) ([]*rag.RetrievalResult, error)
}

// Options 对话服务参数
type Options struct {
	TopK          int
	HistoryTokens int
	Temperature   float32
	Timeout       time.Duration
	TokenCounter  rag.TokenCounter
}

// Service 问答编排：建会话、取历史、检索、生成、落库
type Service struct {
	repo      *Repository
	retriever ContextRetriever
	factory   GeneratorFactory
	opts      Options
	logger    *zap.Logger
}

// NewService 创建对话服务
func NewService(repo *Repository, retriever ContextRetriever, factory GeneratorFactory, opts Options, log *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		retriever: retriever,
		factory:   factory,
		opts:      opts,
		logger:    logger.OrNop(log).Named("chat"),
	}
}

// AskRequest 一次提问
type AskRequest struct {
	ChatID  string `json:"chatId,omitempty"`
	Message string `json:"message"`
}

// AskResult 回答及其引用的分块
type AskResult struct {
	ChatID   string                 `json:"chatId"`
	Message  *Message               `json:"message"`
	Sources  []*rag.RetrievalResult `json:"sources"`
	Degraded bool                   `json:"degraded,omitempty"`
}

// Ask 检索失败时降级为无上下文回答，生成失败直接返回错误
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	ctx, span := otel.Tracer("ragchat/internal/chat").Start(ctx, "chat.Ask")
	defer span.End()
	log := logger.FromContext(ctx, s.logger)

	question := strings.TrimSpace(req.Message)
	if question == "" {
		return nil, rag.ValidationError("message is required")
	}

	// 新会话在保存问答时才落库，生成失败不留下空会话
	chat := &Chat{Title: ChatTitle(question)}
	var history []*Message
	if req.ChatID != "" {
		var err error
		if chat, err = s.repo.GetChat(ctx, req.ChatID); err != nil {
			return nil, err
		}
		log = log.With(zap.String("chat_id", chat.ID))
		if history, err = s.repo.ListMessages(ctx, chat.ID); err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	res := &AskResult{Sources: []*rag.RetrievalResult{}}
	chunks, err := s.retriever.Retrieve(ctx, question, s.opts.TopK)
	if err != nil {
		res.Degraded = true
		log.Warn("检索上下文失败，使用无上下文回答", zap.Error(err))
	} else {
		res.Sources = chunks
	}

	system := DefaultPromptTemplate
	setting, err := s.repo.ActiveContextSetting(ctx)
	if err != nil {
		return nil, fmt.Errorf("load context setting: %w", err)
	}
	if setting != nil && strings.TrimSpace(setting.PromptTemplate) != "" {
		system = setting.PromptTemplate
	}

	model, err := s.repo.ActiveModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active model: %w", err)
	}
	gen, err := s.factory.For(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	genCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	provider := string(gen.Provider())
	started := time.Now()
	answer, err := gen.Generate(genCtx, GenerateRequest{
		System:      system,
		History:     TrimHistory(history, s.opts.HistoryTokens, s.opts.TokenCounter),
		Prompt:      BuildPrompt(res.Sources, question),
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues(provider, "error").Inc()
		log.Error("生成回答失败", zap.String("provider", provider), zap.Error(err))
		return nil, err
	}
	metrics.GenerationsTotal.WithLabelValues(provider, "success").Inc()

	_, assistant, err := s.repo.SaveExchange(ctx, chat, question, answer)
	if err != nil {
		return nil, fmt.Errorf("save messages: %w", err)
	}
	if req.ChatID == "" {
		log = log.With(zap.String("chat_id", chat.ID))
	}
	res.ChatID = chat.ID
	res.Message = assistant

	log.Info("问答完成",
		zap.String("provider", provider),
		zap.Int("sources", len(res.Sources)),
		zap.Int("history", len(history)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}
