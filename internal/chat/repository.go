package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ragchat/internal/rag"

	"gorm.io/gorm"
)

// Repository 会话、消息与模型配置的持久化
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", rag.ErrNotFound, what, id)
}

// CreateChat 创建会话
func (r *Repository) CreateChat(ctx context.Context, title string) (*Chat, error) {
	c := &Chat{Title: title}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetChat 获取会话
func (r *Repository) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("chat", id)
		}
		return nil, err
	}
	return &c, nil
}

// ListChats 按最近更新排序
func (r *Repository) ListChats(ctx context.Context) ([]*Chat, error) {
	var chats []*Chat
	err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&chats).Error
	return chats, err
}

// DeleteChat 删除会话及其消息
func (r *Repository) DeleteChat(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Chat{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("chat", id)
		}
		return nil
	})
}

// ListMessages 按时间正序
func (r *Repository) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	var msgs []*Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&msgs).Error
	return msgs, err
}

// SaveExchange 在一个事务中保存问答两条消息并刷新会话更新时间；chat 尚未落库时一并创建
func (r *Repository) SaveExchange(ctx context.Context, chat *Chat, question, answer string) (*Message, *Message, error) {
	now := time.Now()
	var user, assistant *Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if chat.ID == "" {
			if err := tx.Create(chat).Error; err != nil {
				return err
			}
		}
		user = &Message{ChatID: chat.ID, Role: RoleUser, Content: question, CreatedAt: now}
		assistant = &Message{ChatID: chat.ID, Role: RoleAssistant, Content: answer, CreatedAt: now.Add(time.Millisecond)}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if err := tx.Create(assistant).Error; err != nil {
			return err
		}
		return tx.Model(&Chat{}).Where("id = ?", chat.ID).Update("updated_at", assistant.CreatedAt).Error
	})
	if err != nil {
		return nil, nil, err
	}
	chat.UpdatedAt = assistant.CreatedAt
	return user, assistant, nil
}

// ListModels 全部模型配置
func (r *Repository) ListModels(ctx context.Context) ([]*AIModelConfig, error) {
	var models []*AIModelConfig
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error
	return models, err
}

// CreateModel 创建模型配置
func (r *Repository) CreateModel(ctx context.Context, m *AIModelConfig) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", rag.ErrValidation, err)
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// ActiveModel 当前激活的模型，没有时返回 nil
func (r *Repository) ActiveModel(ctx context.Context) (*AIModelConfig, error) {
	var m AIModelConfig
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("updated_at DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ActivateModel 单事务内先清空全部激活标记再激活目标
func (r *Repository) ActivateModel(ctx context.Context, id string) error {
	return r.activate(ctx, &AIModelConfig{}, "ai model", id)
}

// ListContextSettings 全部提示词模板
func (r *Repository) ListContextSettings(ctx context.Context) ([]*ContextSetting, error) {
	var settings []*ContextSetting
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&settings).Error
	return settings, err
}

// CreateContextSetting 创建提示词模板
func (r *Repository) CreateContextSetting(ctx context.Context, s *ContextSetting) error {
	if s.PromptTemplate == "" {
		return fmt.Errorf("%w: prompt_template is required", rag.ErrValidation)
	}
	if s.Name == "" {
		s.Name = "default"
	}
	return r.db.WithContext(ctx).Create(s).Error
}

// ActiveContextSetting 当前激活的模板，没有时返回 nil
func (r *Repository) ActiveContextSetting(ctx context.Context) (*ContextSetting, error) {
	var s ContextSetting
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("updated_at DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ActivateContextSetting 激活提示词模板
func (r *Repository) ActivateContextSetting(ctx context.Context, id string) error {
	return r.activate(ctx, &ContextSetting{}, "context setting", id)
}

func (r *Repository) activate(ctx context.Context, model any, what, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(model).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
			return err
		}
		res := tx.Model(model).Where("id = ?", id).Updates(map[string]any{
			"is_active":  true,
			"updated_at": time.Now(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound(what, id)
		}
		return nil
	})
}
