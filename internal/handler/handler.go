package handler

import (
	"github.com/ashwinyue/claude-relay/internal/service"
)

// Handlers 处理器集合
type Handlers struct {
	Auth *AuthHandler
	Chat *ChatHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Auth: NewAuthHandler(svc),
		Chat: NewChatHandler(svc),
	}
}
