package repository

import (
	"github.com/ashwinyue/claude-relay/internal/model"
	"gorm.io/gorm"
)

// ChatRepository 聊天引用表数据访问
// 会话和消息主体在 Elasticsearch，这里只维护 PostgreSQL 引用行。
type ChatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建聊天仓库
func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// CreateSession 创建会话引用
func (r *ChatRepository) CreateSession(session *model.ChatSession) error {
	return r.db.Create(session).Error
}

// UpdateSessionFields 更新会话引用的部分字段
func (r *ChatRepository) UpdateSessionFields(sessionID string, fields map[string]interface{}) error {
	return r.db.Model(&model.ChatSession{}).Where("session_id = ?", sessionID).Updates(fields).Error
}

// DeleteSession 删除会话引用及其消息引用
func (r *ChatRepository) DeleteSession(sessionID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.ChatMessage{}, "session_id = ?", sessionID).Error; err != nil {
			return err
		}
		return tx.Delete(&model.ChatSession{}, "session_id = ?", sessionID).Error
	})
}

// CreateMessage 创建消息引用
func (r *ChatRepository) CreateMessage(msg *model.ChatMessage) error {
	return r.db.Create(msg).Error
}
