// Package testutil 提供测试辅助工具
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ashwinyue/claude-relay/internal/model"
	"github.com/ashwinyue/claude-relay/internal/store"
)

// MemoryStore 内存版会话存储，跨包测试共用
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
}

var _ store.ConversationStore = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*model.Conversation)}
}

func clone(conv *model.Conversation) *model.Conversation {
	out := *conv
	out.Messages = make([]model.ConversationMessage, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return &out
}

// Put 保存会话
func (m *MemoryStore) Put(ctx context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.SessionID] = clone(conv)
	return nil
}

// Get 获取会话，不存在时返回 (nil, nil)
func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[sessionID]
	if !ok {
		return nil, nil
	}
	return clone(conv), nil
}

// Patch 更新会话的部分字段
func (m *MemoryStore) Patch(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[sessionID]
	if !ok {
		return store.ErrUnavailable
	}
	if title, ok := fields["title"].(string); ok {
		conv.Title = title
	}
	if updatedAt, ok := fields["updated_at"].(time.Time); ok {
		conv.UpdatedAt = updatedAt
	}
	return nil
}

// Delete 删除会话
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[sessionID]; !ok {
		return false, nil
	}
	delete(m.conversations, sessionID)
	return true, nil
}

// QueryByOwner 查询用户的全部会话，按最近活跃排序
func (m *MemoryStore) QueryByOwner(ctx context.Context, userID string) ([]*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Conversation{}
	for _, conv := range m.conversations {
		if conv.UserID == userID {
			out = append(out, clone(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
