// Package ws 提供连接注册表单元测试
package ws

import (
	"errors"
	"testing"
	"time"
)

// fakeConn 测试用连接，记录写入的消息
type fakeConn struct {
	written []interface{}
	failAll bool
	closed  bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	if f.failAll {
		return errors.New("broken pipe")
	}
	f.written = append(f.written, v)
	return nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if f.failAll {
		return errors.New("broken pipe")
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

// ========== Registry 测试 ==========

func TestRegistry_RegisterAndConnections(t *testing.T) {
	r := NewRegistry()

	c1 := NewConn(&fakeConn{}, "user-1", 0)
	c2 := NewConn(&fakeConn{}, "user-1", 0)
	c3 := NewConn(&fakeConn{}, "user-2", 0)

	r.Register(c1)
	r.Register(c2)
	r.Register(c3)

	if got := len(r.Connections("user-1")); got != 2 {
		t.Errorf("user-1 connections = %d, want 2", got)
	}
	if got := len(r.Connections("user-2")); got != 1 {
		t.Errorf("user-2 connections = %d, want 1", got)
	}
	if got := len(r.Connections("user-3")); got != 0 {
		t.Errorf("user-3 connections = %d, want 0", got)
	}
}

func TestRegistry_UnregisterLeavesOthers(t *testing.T) {
	r := NewRegistry()

	c1 := NewConn(&fakeConn{}, "user-1", 0)
	c2 := NewConn(&fakeConn{}, "user-1", 0)
	r.Register(c1)
	r.Register(c2)

	r.Unregister(c1)

	conns := r.Connections("user-1")
	if len(conns) != 1 {
		t.Fatalf("connections = %d, want 1", len(conns))
	}
	if conns[0] != c2 {
		t.Error("wrong connection removed")
	}
}

func TestRegistry_LastUnregisterEvictsUser(t *testing.T) {
	r := NewRegistry()

	c := NewConn(&fakeConn{}, "user-1", 0)
	r.Register(c)
	r.Unregister(c)

	r.mu.RLock()
	_, exists := r.conns["user-1"]
	r.mu.RUnlock()
	if exists {
		t.Error("user entry should be evicted after last connection leaves")
	}

	// 重复注销不应 panic
	r.Unregister(c)
}

func TestRegistry_BroadcastReachesAllConnections(t *testing.T) {
	r := NewRegistry()

	f1 := &fakeConn{}
	f2 := &fakeConn{}
	r.Register(NewConn(f1, "user-1", 0))
	r.Register(NewConn(f2, "user-1", 0))
	other := &fakeConn{}
	r.Register(NewConn(other, "user-2", 0))

	failed := r.Broadcast("user-1", map[string]string{"type": "ping"})
	if len(failed) != 0 {
		t.Errorf("failed connections = %d, want 0", len(failed))
	}

	if len(f1.written) != 1 || len(f2.written) != 1 {
		t.Errorf("writes = %d/%d, want 1/1", len(f1.written), len(f2.written))
	}
	if len(other.written) != 0 {
		t.Error("broadcast leaked to another user")
	}
}

func TestRegistry_BroadcastReportsFailures(t *testing.T) {
	r := NewRegistry()

	good := &fakeConn{}
	bad := &fakeConn{failAll: true}
	r.Register(NewConn(good, "user-1", 0))
	badConn := NewConn(bad, "user-1", 0)
	r.Register(badConn)

	failed := r.Broadcast("user-1", map[string]string{"type": "ping"})
	if len(failed) != 1 || failed[0] != badConn {
		t.Errorf("failed = %v, want the broken connection", failed)
	}
	if len(good.written) != 1 {
		t.Error("healthy connection should still receive the message")
	}
}

// ========== Conn 测试 ==========

func TestConn_CloseIsIdempotent(t *testing.T) {
	f := &fakeConn{}
	c := NewConn(f, "user-1", 0)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !f.closed {
		t.Error("underlying connection not closed")
	}

	select {
	case <-c.Done():
	default:
		t.Error("Done channel should be closed")
	}
}
