package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/claude-relay/internal/middleware"
	"github.com/ashwinyue/claude-relay/internal/model"
	"github.com/ashwinyue/claude-relay/internal/service"
	"github.com/ashwinyue/claude-relay/internal/service/chat"
)

// ChatHandler 聊天处理器
type ChatHandler struct {
	svc *service.Services
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(svc *service.Services) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// SessionSummary 会话摘要
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toSummary(conv *model.Conversation) SessionSummary {
	return SessionSummary{
		SessionID:    conv.SessionID,
		Title:        conv.Title,
		MessageCount: len(conv.Messages),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
}

// GetHistory 获取当前用户的会话列表
func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		Unauthorized(c, "Not authenticated")
		return
	}

	convs, err := h.svc.Chat.ListSessions(c.Request.Context(), userID)
	if err != nil {
		Error(c, err)
		return
	}

	summaries := make([]SessionSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, toSummary(conv))
	}

	Success(c, gin.H{"sessions": summaries})
}

// CreateSession 创建会话
func (h *ChatHandler) CreateSession(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		Unauthorized(c, "Not authenticated")
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	// 请求体可为空
	_ = c.ShouldBindJSON(&req)

	conv, err := h.svc.Chat.CreateSession(c.Request.Context(), userID, req.Title)
	if err != nil {
		Error(c, err)
		return
	}

	Created(c, conv)
}

// GetSession 获取会话详情（含完整消息）
func (h *ChatHandler) GetSession(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		Unauthorized(c, "Not authenticated")
		return
	}

	conv, err := h.svc.Chat.GetOwnedSession(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, conv)
}

// UpdateSession 更新会话
func (h *ChatHandler) UpdateSession(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		Unauthorized(c, "Not authenticated")
		return
	}

	var req chat.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	conv, err := h.svc.Chat.UpdateSession(c.Request.Context(), userID, c.Param("id"), &req)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, conv)
}

// DeleteSession 删除会话
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.svc.Chat.DeleteSession(c.Request.Context(), userID, c.Param("id")); err != nil {
		Error(c, err)
		return
	}

	Success(c, gin.H{"message": "Session deleted"})
}

// SendMessage 发送消息并等待回复
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		Unauthorized(c, "Not authenticated")
		return
	}

	var req struct {
		Message   string `json:"message" binding:"required"`
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Message content is required")
		return
	}

	conv, err := h.svc.Chat.ProcessMessage(c.Request.Context(), userID, req.Message, req.SessionID)
	if err != nil {
		Error(c, err)
		return
	}

	reply := conv.LastByRole(model.RoleAssistant)
	if reply == nil {
		InternalServerError(c, "No response generated")
		return
	}

	Success(c, gin.H{
		"message":    reply.Content,
		"session_id": conv.SessionID,
	})
}
