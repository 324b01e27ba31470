package model

import "time"

// 会话和消息主体存储在 Elasticsearch（见 Conversation），
// 这里的表是 PostgreSQL 中的轻量引用行，供关系查询和审计使用。

// ChatSession 聊天会话引用
type ChatSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"uniqueIndex;size:36;not null" json:"session_id"`
	UserID    string    `gorm:"index;size:36;not null" json:"user_id"`
	Title     string    `gorm:"size:255" json:"title"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ChatMessage 聊天消息引用，只保留内容摘要避免与 ES 重复存储
type ChatMessage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	MessageID      string    `gorm:"uniqueIndex;size:36;not null" json:"message_id"`
	SessionID      string    `gorm:"index;size:36;not null" json:"session_id"`
	Role           string    `gorm:"size:20;not null" json:"role"` // user, assistant, system
	ContentPreview string    `gorm:"type:text" json:"content_preview"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
}

// TableName 指定表名
func (ChatSession) TableName() string {
	return "chat_sessions"
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
