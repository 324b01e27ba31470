// Package store 提供会话文档的持久化访问。
// 接口抽象使依赖注入和单元测试成为可能。
package store

import (
	"context"
	"errors"

	"github.com/ashwinyue/claude-relay/internal/model"
)

// ErrUnavailable 存储不可用。读路径应降级为空结果，写路径应向上传播。
var ErrUnavailable = errors.New("conversation store unavailable")

// ConversationStore 会话文档数据访问接口
// Get 返回 (nil, nil) 表示文档不存在，调用方必须检查。
type ConversationStore interface {
	Put(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, sessionID string) (*model.Conversation, error)
	Patch(ctx context.Context, sessionID string, fields map[string]interface{}) error
	Delete(ctx context.Context, sessionID string) (bool, error)
	QueryByOwner(ctx context.Context, userID string) ([]*model.Conversation, error)
}
