// Package chat 提供会话生命周期管理和消息编排
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashwinyue/claude-relay/internal/config"
	"github.com/ashwinyue/claude-relay/internal/model"
	"github.com/ashwinyue/claude-relay/internal/service/claude"
	"github.com/ashwinyue/claude-relay/internal/store"
)

const (
	// defaultTitlePrefix 自动生成标题的前缀，auto-title 据此判断标题是否被改过
	defaultTitlePrefix = "Chat "
	// autoTitleMaxLen 自动标题取首条用户消息的前 30 个字符
	autoTitleMaxLen = 30
	// previewMaxLen 引用表中消息摘要的最大长度
	previewMaxLen = 200
)

// Generator 生成回复的上游接口
type Generator interface {
	Generate(ctx context.Context, messages []claude.Message, maxTokens int) (string, error)
}

// Mirror PostgreSQL 引用表写入接口
// 引用行是尽力而为的副本，写入失败只记录日志，不影响主流程。
type Mirror interface {
	CreateSession(session *model.ChatSession) error
	UpdateSessionFields(sessionID string, fields map[string]interface{}) error
	DeleteSession(sessionID string) error
	CreateMessage(msg *model.ChatMessage) error
}

// Service 聊天服务：会话管理 + 消息编排
type Service struct {
	store      store.ConversationStore
	mirror     Mirror
	generator  Generator
	genTimeout time.Duration
	maxTokens  int
}

// NewService 创建聊天服务
func NewService(st store.ConversationStore, mirror Mirror, gen Generator, cfg *config.ClaudeConfig) *Service {
	timeout := 20 * time.Second
	maxTokens := 1024
	if cfg != nil {
		if cfg.Timeout > 0 {
			timeout = time.Duration(cfg.Timeout) * time.Second
		}
		if cfg.MaxTokens > 0 {
			maxTokens = cfg.MaxTokens
		}
	}
	return &Service{
		store:      st,
		mirror:     mirror,
		generator:  gen,
		genTimeout: timeout,
		maxTokens:  maxTokens,
	}
}

// CreateSession 创建会话
// 未提供标题时使用按创建时间生成的默认标题。
func (s *Service) CreateSession(ctx context.Context, userID, title string) (*model.Conversation, error) {
	now := time.Now().UTC()
	if title == "" {
		title = defaultTitlePrefix + now.Format(time.RFC3339)
	}

	conv := &model.Conversation{
		SessionID: uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Messages:  []model.ConversationMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Put(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.CreateSession(&model.ChatSession{
			SessionID: conv.SessionID,
			UserID:    userID,
			Title:     title,
			IsActive:  true,
		}); err != nil {
			log.Printf("Warning: failed to mirror session %s: %v", conv.SessionID, err)
		}
	}

	log.Printf("Created chat session %s for user %s", conv.SessionID, userID)
	return conv, nil
}

// GetSession 获取会话，不存在时返回 (nil, nil)
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.Conversation, error) {
	return s.store.Get(ctx, sessionID)
}

// GetOwnedSession 获取会话并校验归属
// 不存在返回 ErrNotFound，归属不符返回 ErrForbidden。
func (s *Service) GetOwnedSession(ctx context.Context, userID, sessionID string) (*model.Conversation, error) {
	conv, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// ListSessions 列出用户的会话，按最近活跃排序
// 存储故障时降级为空列表而不是报错。
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*model.Conversation, error) {
	sessions, err := s.store.QueryByOwner(ctx, userID)
	if err != nil {
		log.Printf("Failed to list sessions for user %s: %v", userID, err)
		return []*model.Conversation{}, nil
	}
	return sessions, nil
}

// UpdateSessionRequest 更新会话请求，只更新提供的字段
type UpdateSessionRequest struct {
	Title    *string `json:"title"`
	IsActive *bool   `json:"is_active"`
}

// UpdateSession 更新会话元数据
func (s *Service) UpdateSession(ctx context.Context, userID, sessionID string, req *UpdateSessionRequest) (*model.Conversation, error) {
	conv, err := s.GetOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fields := map[string]interface{}{"updated_at": now}
	mirrorFields := map[string]interface{}{}

	if req.Title != nil {
		fields["title"] = *req.Title
		mirrorFields["title"] = *req.Title
		conv.Title = *req.Title
	}
	if req.IsActive != nil {
		// active 标志只存在于引用表
		mirrorFields["is_active"] = *req.IsActive
	}
	conv.UpdatedAt = now

	if err := s.store.Patch(ctx, sessionID, fields); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	if s.mirror != nil && len(mirrorFields) > 0 {
		if err := s.mirror.UpdateSessionFields(sessionID, mirrorFields); err != nil {
			log.Printf("Warning: failed to mirror session update %s: %v", sessionID, err)
		}
	}

	return conv, nil
}

// DeleteSession 删除会话及其全部消息，删除后任何读取都不再成功
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.GetOwnedSession(ctx, userID, sessionID); err != nil {
		return err
	}

	deleted, err := s.store.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}

	if s.mirror != nil {
		if err := s.mirror.DeleteSession(sessionID); err != nil {
			log.Printf("Warning: failed to mirror session delete %s: %v", sessionID, err)
		}
	}

	log.Printf("Deleted chat session %s", sessionID)
	return nil
}

// maybeAutoTitle 首次交流后用首条用户消息生成标题
// 消息数超过一次交流或标题已被改过时不再触发。
func (s *Service) maybeAutoTitle(ctx context.Context, conv *model.Conversation, firstUserMessage string) {
	if len(conv.Messages) > 2 {
		return
	}
	if !strings.HasPrefix(conv.Title, defaultTitlePrefix) {
		return
	}

	title := truncateRunes(firstUserMessage, autoTitleMaxLen)
	now := time.Now().UTC()
	conv.Title = title
	conv.UpdatedAt = now

	if err := s.store.Patch(ctx, conv.SessionID, map[string]interface{}{
		"title":      title,
		"updated_at": now,
	}); err != nil {
		log.Printf("Warning: failed to persist auto title for session %s: %v", conv.SessionID, err)
		return
	}

	if s.mirror != nil {
		if err := s.mirror.UpdateSessionFields(conv.SessionID, map[string]interface{}{"title": title}); err != nil {
			log.Printf("Warning: failed to mirror auto title for session %s: %v", conv.SessionID, err)
		}
	}
}

// truncateRunes 截断到最多 n 个字符，截断时追加 "..."
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
