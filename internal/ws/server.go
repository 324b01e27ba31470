package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ashwinyue/claude-relay/internal/config"
	"github.com/ashwinyue/claude-relay/internal/model"
)

// inboundFrame 客户端上行帧
type inboundFrame struct {
	Type      string `json:"type,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// TokenValidator 把连接令牌解析为用户
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.User, error)
}

// Processor 处理一条聊天消息并返回更新后的会话
type Processor interface {
	ProcessMessage(ctx context.Context, userID, text, sessionID string) (*model.Conversation, error)
}

// Server WebSocket 聊天服务端
type Server struct {
	auth     TokenValidator
	chat     Processor
	registry *Registry
	upgrader websocket.Upgrader

	pingInterval   time.Duration
	writeTimeout   time.Duration
	maxMessageSize int64
}

// NewServer 创建 WebSocket 服务端
func NewServer(auth TokenValidator, chat Processor, registry *Registry, cfg *config.WebSocketConfig) *Server {
	pingInterval := 25 * time.Second
	writeTimeout := 10 * time.Second
	maxMessageSize := int64(65536)
	if cfg != nil {
		if cfg.PingInterval > 0 {
			pingInterval = time.Duration(cfg.PingInterval) * time.Second
		}
		if cfg.WriteTimeout > 0 {
			writeTimeout = time.Duration(cfg.WriteTimeout) * time.Second
		}
		if cfg.MaxMessageSize > 0 {
			maxMessageSize = cfg.MaxMessageSize
		}
	}

	s := &Server{
		auth:           auth,
		chat:           chat,
		registry:       registry,
		pingInterval:   pingInterval,
		writeTimeout:   writeTimeout,
		maxMessageSize: maxMessageSize,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	return s
}

// Handle 处理 WebSocket 聊天连接
func (s *Server) Handle(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Warning: websocket upgrade failed: %v", err)
		return
	}
	ws.SetReadLimit(s.maxMessageSize)

	token := c.Param("token")
	user, err := s.auth.ValidateToken(c.Request.Context(), token)
	if err != nil {
		s.closeWith(ws, websocket.ClosePolicyViolation, "Authentication failed")
		return
	}

	conn := NewConn(ws, user.ID, s.writeTimeout)
	s.registry.Register(conn)
	defer func() {
		s.registry.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.WriteJSON(gin.H{
		"type":    "connection_established",
		"user_id": user.ID,
	}); err != nil {
		return
	}

	go s.keepalive(conn)

	s.readLoop(ws, conn, user.ID)
}

// keepalive 周期性发送应用层 ping，写失败即断开
func (s *Server) keepalive(conn *Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(gin.H{"type": "ping"}); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Server) readLoop(ws *websocket.Conn, conn *Conn, userID string) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if !s.send(conn, gin.H{"error": "Invalid JSON format"}) {
				return
			}
			continue
		}

		switch frame.Type {
		case "ping":
			if !s.send(conn, gin.H{"type": "pong"}) {
				return
			}
			continue
		case "pong":
			continue
		}

		if frame.Message == "" {
			if !s.send(conn, gin.H{"error": "Message content is required"}) {
				return
			}
			continue
		}

		conv, err := s.chat.ProcessMessage(context.Background(), userID, frame.Message, frame.SessionID)
		if err != nil {
			// 完整错误链只进日志，帧里不带上游细节
			log.Printf("Warning: failed to process message for user %s: %v", userID, err)
			if !s.send(conn, gin.H{"error": "Error processing message"}) {
				return
			}
			continue
		}

		reply := conv.LastByRole(model.RoleAssistant)
		if reply == nil {
			if !s.send(conn, gin.H{"error": "No response generated"}) {
				return
			}
			continue
		}

		if !s.send(conn, gin.H{
			"message":    reply.Content,
			"session_id": conv.SessionID,
			"timestamp":  reply.Timestamp.UTC().Format(time.RFC3339),
		}) {
			return
		}
	}
}

// send 推送一帧，失败时以 1011 关闭连接并返回 false
func (s *Server) send(conn *Conn, v interface{}) bool {
	if err := conn.WriteJSON(v); err != nil {
		log.Printf("Warning: websocket send failed for user %s: %v", conn.UserID(), err)
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "Failed to send message")
		_ = conn.WriteControl(websocket.CloseMessage, msg)
		_ = conn.Close()
		return false
	}
	return true
}

func (s *Server) closeWith(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_ = ws.WriteMessage(websocket.CloseMessage, msg)
	_ = ws.Close()
}
