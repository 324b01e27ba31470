// Package ws 提供 WebSocket 连接管理与消息分发
package ws

import (
	"sync"
	"time"
)

// wsConn 抽象底层 WebSocket 连接的写入能力
type wsConn interface {
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn 单个用户连接，写入串行化
type Conn struct {
	ws           wsConn
	userID       string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn 包装一个已建立的连接
func NewConn(ws wsConn, userID string, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Conn{
		ws:           ws,
		userID:       userID,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// UserID 连接所属用户
func (c *Conn) UserID() string {
	return c.userID
}

// WriteJSON 串行写入一条 JSON 消息
func (c *Conn) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(v)
}

// WriteControl 串行写入一条控制帧
func (c *Conn) WriteControl(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// Close 关闭连接，可重复调用
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Done 连接关闭信号
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Registry 按用户维护活跃连接集合
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
}

// NewRegistry 创建连接注册表
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]map[*Conn]struct{}),
	}
}

// Register 登记一个用户连接
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[c.userID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.conns[c.userID] = set
	}
	set[c] = struct{}{}
}

// Unregister 移除一个用户连接，最后一条连接移除后清空用户条目
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[c.userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.userID)
	}
}

// Connections 返回某用户当前的全部连接
func (r *Registry) Connections(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Broadcast 向某用户的全部连接推送一条消息，返回写入失败的连接
func (r *Registry) Broadcast(userID string, v interface{}) []*Conn {
	var failed []*Conn
	for _, c := range r.Connections(userID) {
		if err := c.WriteJSON(v); err != nil {
			failed = append(failed, c)
		}
	}
	return failed
}
