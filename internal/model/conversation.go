package model

import "time"

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	// RoleSystem 保留给编排器写入的错误/状态记录
	RoleSystem = "system"
)

// Conversation 会话文档（Elasticsearch 存储主体）
// 一个会话一个文档，以 SessionID 作为文档 ID，消息按追加顺序排列。
type Conversation struct {
	SessionID string                `json:"session_id"`
	UserID    string                `json:"user_id"`
	Title     string                `json:"title"`
	Messages  []ConversationMessage `json:"messages"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// ConversationMessage 会话中的单条消息
type ConversationMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// LastByRole 返回指定角色的最后一条消息，不存在时返回 nil
func (c *Conversation) LastByRole(role string) *ConversationMessage {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == role {
			return &c.Messages[i]
		}
	}
	return nil
}
