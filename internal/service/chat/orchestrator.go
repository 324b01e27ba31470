package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ashwinyue/claude-relay/internal/model"
	"github.com/ashwinyue/claude-relay/internal/service/claude"
)

const (
	// TimeoutFallback 生成超时后的固定回复文本
	TimeoutFallback = "[Timeout] Claude took too long to respond."
	// historyWindow 发给上游的历史消息条数上限，超出时截掉最旧的
	historyWindow = 10
)

// ProcessMessage 处理一条用户消息，返回追加了用户消息和回复后的会话。
//
// 阶段：解析会话 → 追加用户消息 → 生成 → 追加回复 → 自动标题 → 重新加载。
// 用户消息在生成开始前落盘；生成超时用固定回退文本代替回复；
// 其他生成错误会以 system 消息记录到会话中并向调用方传播。
// 同一会话的并发调用之间不做串行化，追加顺序可能交错，这是已知取舍。
func (s *Service) ProcessMessage(ctx context.Context, userID, text, sessionID string) (*model.Conversation, error) {
	conv, err := s.resolveSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.appendMessage(ctx, conv, model.RoleUser, text); err != nil {
		return nil, fmt.Errorf("failed to append user message: %w", err)
	}

	history := promptWindow(conv.Messages)

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	reply, err := s.generator.Generate(genCtx, history, s.maxTokens)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Printf("Generation timed out for session %s, using fallback", conv.SessionID)
			reply = TimeoutFallback
		} else {
			if aerr := s.appendMessage(ctx, conv, model.RoleSystem, "Error: "+err.Error()); aerr != nil {
				log.Printf("Failed to record generation error in session %s: %v", conv.SessionID, aerr)
			}
			return nil, fmt.Errorf("failed to generate reply: %w", err)
		}
	}

	if err := s.appendMessage(ctx, conv, model.RoleAssistant, reply); err != nil {
		return nil, fmt.Errorf("failed to append assistant message: %w", err)
	}

	s.maybeAutoTitle(ctx, conv, text)

	log.Printf("Processed message in session %s", conv.SessionID)

	// 返回重新加载的会话，保证调用方看到已持久化的状态
	fresh, err := s.store.Get(ctx, conv.SessionID)
	if err != nil || fresh == nil {
		log.Printf("Warning: failed to reload session %s after processing: %v", conv.SessionID, err)
		return conv, nil
	}
	return fresh, nil
}

// resolveSession 解析或创建会话
// 给了会话 ID 但查不到时降级为新建会话，而不是让请求失败。
func (s *Service) resolveSession(ctx context.Context, userID, sessionID string) (*model.Conversation, error) {
	if sessionID != "" {
		existing, err := s.store.Get(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve session: %w", err)
		}
		if existing != nil {
			if existing.UserID != userID {
				return nil, ErrForbidden
			}
			return existing, nil
		}
		log.Printf("Session %s not found, creating new session for user %s", sessionID, userID)
	}
	return s.CreateSession(ctx, userID, "")
}

// appendMessage 追加一条消息并立刻落盘
func (s *Service) appendMessage(ctx context.Context, conv *model.Conversation, role, content string) error {
	ts := time.Now().UTC()
	// 会话内时间戳保持非递减
	if n := len(conv.Messages); n > 0 && ts.Before(conv.Messages[n-1].Timestamp) {
		ts = conv.Messages[n-1].Timestamp
	}

	msg := model.ConversationMessage{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = ts

	if err := s.store.Put(ctx, conv); err != nil {
		// 回滚内存中的追加，保持与存储一致
		conv.Messages = conv.Messages[:len(conv.Messages)-1]
		return err
	}

	if s.mirror != nil {
		if err := s.mirror.CreateMessage(&model.ChatMessage{
			MessageID:      msg.ID,
			SessionID:      conv.SessionID,
			Role:           role,
			ContentPreview: truncateRunes(content, previewMaxLen),
			Timestamp:      ts,
		}); err != nil {
			log.Printf("Warning: failed to mirror message %s: %v", msg.ID, err)
		}
	}

	log.Printf("Added %s message to session %s", role, conv.SessionID)
	return nil
}

// promptWindow 把会话消息压缩为发给上游的 role+content 列表
// 只保留最近 historyWindow 条。
func promptWindow(messages []model.ConversationMessage) []claude.Message {
	start := 0
	if len(messages) > historyWindow {
		start = len(messages) - historyWindow
	}

	window := make([]claude.Message, 0, len(messages)-start)
	for _, m := range messages[start:] {
		window = append(window, claude.Message{Role: m.Role, Content: m.Content})
	}
	return window
}
