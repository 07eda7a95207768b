package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProviderKind 生成模型提供方
type ProviderKind string

const (
	ProviderGemini ProviderKind = "gemini"
	ProviderGrok   ProviderKind = "grok"
)

// ParseProviderKind 未知提供方直接拒绝
func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderGemini:
		return ProviderGemini, nil
	case ProviderGrok:
		return ProviderGrok, nil
	default:
		return "", fmt.Errorf("unknown model provider %q", s)
	}
}

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat 会话
type Chat struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index:idx_chat_updated" json:"updated_at"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	return nil
}

// TableName 指定表名
func (Chat) TableName() string { return "chats" }

// Message 会话中的一条消息
type Message struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID    string    `gorm:"type:uuid;not null;index:idx_message_chat" json:"chat_id"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return nil
}

// TableName 指定表名
func (Message) TableName() string { return "messages" }

// AIModelConfig 生成模型配置，同一时刻最多一个激活
type AIModelConfig struct {
	ID        string       `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string       `gorm:"type:varchar(100);not null" json:"name"`
	Provider  ProviderKind `gorm:"type:varchar(20);not null" json:"provider"`
	Model     string       `gorm:"type:varchar(100);not null" json:"model"`
	APIKey    string       `gorm:"type:text" json:"-"`
	BaseURL   string       `gorm:"type:varchar(255)" json:"base_url,omitempty"`
	IsActive  bool         `gorm:"default:false;index:idx_model_active" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (m *AIModelConfig) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	return nil
}

// Validate 校验提供方与模型名
func (m *AIModelConfig) Validate() error {
	kind, err := ParseProviderKind(string(m.Provider))
	if err != nil {
		return err
	}
	m.Provider = kind
	if strings.TrimSpace(m.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if strings.TrimSpace(m.Name) == "" {
		m.Name = m.Model
	}
	return nil
}

// TableName 指定表名
func (AIModelConfig) TableName() string { return "ai_model_configs" }

// ContextSetting 提示词模板，同一时刻最多一个激活
type ContextSetting struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string    `gorm:"type:varchar(100);not null" json:"name"`
	PromptTemplate string    `gorm:"type:text;not null" json:"prompt_template"`
	IsActive       bool      `gorm:"default:false;index:idx_context_active" json:"is_active"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (s *ContextSetting) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	return nil
}

// TableName 指定表名
func (ContextSetting) TableName() string { return "context_settings" }

// AllModels 需要迁移的表
func AllModels() []any {
	return []any{&Chat{}, &Message{}, &AIModelConfig{}, &ContextSetting{}}
}
