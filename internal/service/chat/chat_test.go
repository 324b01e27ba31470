// Package chat 提供聊天服务单元测试
package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ashwinyue/claude-relay/internal/config"
	"github.com/ashwinyue/claude-relay/internal/model"
	"github.com/ashwinyue/claude-relay/internal/service/claude"
	"github.com/ashwinyue/claude-relay/internal/store"
)

// ========== 测试用 mock ==========

// mockStore 内存版会话存储
type mockStore struct {
	conversations map[string]*model.Conversation
	failPut       bool
	failGet       bool
	failQuery     bool
}

func newMockStore() *mockStore {
	return &mockStore{conversations: make(map[string]*model.Conversation)}
}

func cloneConv(conv *model.Conversation) *model.Conversation {
	out := *conv
	out.Messages = make([]model.ConversationMessage, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return &out
}

func (m *mockStore) Put(ctx context.Context, conv *model.Conversation) error {
	if m.failPut {
		return store.ErrUnavailable
	}
	m.conversations[conv.SessionID] = cloneConv(conv)
	return nil
}

func (m *mockStore) Get(ctx context.Context, sessionID string) (*model.Conversation, error) {
	if m.failGet {
		return nil, store.ErrUnavailable
	}
	conv, ok := m.conversations[sessionID]
	if !ok {
		return nil, nil
	}
	return cloneConv(conv), nil
}

func (m *mockStore) Patch(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	if m.failPut {
		return store.ErrUnavailable
	}
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

func (m *mockStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	if m.failPut {
		return false, store.ErrUnavailable
	}
	if _, ok := m.conversations[sessionID]; !ok {
		return false, nil
	}
	delete(m.conversations, sessionID)
	return true, nil
}

func (m *mockStore) QueryByOwner(ctx context.Context, userID string) ([]*model.Conversation, error) {
	if m.failQuery {
		return nil, store.ErrUnavailable
	}
	var out []*model.Conversation
	for _, conv := range m.conversations {
		if conv.UserID == userID {
			out = append(out, cloneConv(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// mockMirror 记录引用表写入调用
type mockMirror struct {
	sessions      []*model.ChatSession
	messages      []*model.ChatMessage
	updatedFields map[string]interface{}
	deletedIDs    []string
	failCreate    bool
}

func (m *mockMirror) CreateSession(session *model.ChatSession) error {
	if m.failCreate {
		return errors.New("mirror unavailable")
	}
	m.sessions = append(m.sessions, session)
	return nil
}

func (m *mockMirror) UpdateSessionFields(sessionID string, fields map[string]interface{}) error {
	m.updatedFields = fields
	return nil
}

func (m *mockMirror) DeleteSession(sessionID string) error {
	m.deletedIDs = append(m.deletedIDs, sessionID)
	return nil
}

func (m *mockMirror) CreateMessage(msg *model.ChatMessage) error {
	m.messages = append(m.messages, msg)
	return nil
}

// mockGenerator 可配置的回复生成器
type mockGenerator struct {
	reply    string
	err      error
	lastSeen []claude.Message
	calls    int
}

func (m *mockGenerator) Generate(ctx context.Context, messages []claude.Message, maxTokens int) (string, error) {
	m.calls++
	m.lastSeen = messages
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func newTestService(st *mockStore, mirror *mockMirror, gen *mockGenerator) *Service {
	return NewService(st, mirror, gen, &config.ClaudeConfig{Timeout: 20, MaxTokens: 1024})
}

// ========== CreateSession 测试 ==========

func TestCreateSession_DefaultTitle(t *testing.T) {
	st := newMockStore()
	mirror := &mockMirror{}
	svc := newTestService(st, mirror, &mockGenerator{})

	conv, err := svc.CreateSession(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if conv.SessionID == "" {
		t.Error("SessionID is empty")
	}
	if !strings.HasPrefix(conv.Title, "Chat ") {
		t.Errorf("Title = %q, want prefix %q", conv.Title, "Chat ")
	}
	if conv.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", conv.UserID, "user-1")
	}
	if len(conv.Messages) != 0 {
		t.Errorf("Messages length = %d, want 0", len(conv.Messages))
	}

	stored, _ := st.Get(context.Background(), conv.SessionID)
	if stored == nil {
		t.Fatal("session not persisted")
	}
	if len(mirror.sessions) != 1 {
		t.Errorf("mirrored sessions = %d, want 1", len(mirror.sessions))
	}
}

func TestCreateSession_CustomTitle(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, &mockMirror{}, &mockGenerator{})

	conv, err := svc.CreateSession(context.Background(), "user-1", "My Topic")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if conv.Title != "My Topic" {
		t.Errorf("Title = %q, want %q", conv.Title, "My Topic")
	}
}

func TestCreateSession_MirrorFailureIgnored(t *testing.T) {
	st := newMockStore()
	mirror := &mockMirror{failCreate: true}
	svc := newTestService(st, mirror, &mockGenerator{})

	conv, err := svc.CreateSession(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if stored, _ := st.Get(context.Background(), conv.SessionID); stored == nil {
		t.Error("session should persist despite mirror failure")
	}
}

func TestCreateSession_StoreFailure(t *testing.T) {
	st := newMockStore()
	st.failPut = true
	svc := newTestService(st, &mockMirror{}, &mockGenerator{})

	if _, err := svc.CreateSession(context.Background(), "user-1", ""); err == nil {
		t.Error("expected error when store is unavailable")
	}
}

// ========== GetOwnedSession 测试 ==========

func TestGetOwnedSession(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, &mockMirror{}, &mockGenerator{})

	conv, _ := svc.CreateSession(context.Background(), "owner", "")

	tests := []struct {
		name      string
		userID    string
		sessionID string
		wantErr   error
	}{
		{
			name:      "owner can read",
			userID:    "owner",
			sessionID: conv.SessionID,
			wantErr:   nil,
		},
		{
			name:      "other user is rejected",
			userID:    "intruder",
			sessionID: conv.SessionID,
			wantErr:   ErrForbidden,
		},
		{
			name:      "unknown session",
			userID:    "owner",
			sessionID: "does-not-exist",
			wantErr:   ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetOwnedSession(context.Background(), tt.userID, tt.sessionID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GetOwnedSession() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ========== ListSessions 测试 ==========

func TestListSessions(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, &mockMirror{}, &mockGenerator{})

	_, _ = svc.CreateSession(context.Background(), "user-1", "a")
	_, _ = svc.CreateSession(context.Background(), "user-1", "b")
	_, _ = svc.CreateSession(context.Background(), "user-2", "c")

	sessions, err := svc.ListSessions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("sessions length = %d, want 2", len(sessions))
	}
}

func TestListSessions_MostRecentFirst(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, &mockMirror{}, &mockGenerator{})

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, sessionID := range []string{"s-old", "s-new", "s-mid"} {
		offset := []time.Duration{0, 2 * time.Hour, time.Hour}[i]
		st.conversations[sessionID] = &model.Conversation{
			SessionID: sessionID,
			UserID:    "user-1",
			Title:     sessionID,
			CreatedAt: base,
			UpdatedAt: base.Add(offset),
		}
	}

	sessions, err := svc.ListSessions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}

	var got []string
	for _, s := range sessions {
		got = append(got, s.SessionID)
	}
	want := []string{"s-new", "s-mid", "s-old"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("session order = %v, want %v", got, want)
		}
	}
}

func TestListSessions_StoreFailureDegradesToEmpty(t *testing.T) {
	st := newMockStore()
	st.failQuery = true
	svc := newTestService(st, &mockMirror{}, &mockGenerator{})

	sessions, err := svc.ListSessions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListSessions() error = %v, want nil", err)
	}
	if sessions == nil {
		t.Fatal("sessions is nil, want empty slice")
	}
	if len(sessions) != 0 {
		t.Errorf("sessions length = %d, want 0", len(sessions))
	}
}

// ========== UpdateSession 测试 ==========

func TestUpdateSession_Title(t *testing.T) {
	st := newMockStore()
	mirror := &mockMirror{}
	svc := newTestService(st, mirror, &mockGenerator{})

	conv, _ := svc.CreateSession(context.Background(), "user-1", "")

	newTitle := "Renamed"
	updated, err := svc.UpdateSession(context.Background(), "user-1", conv.SessionID, &UpdateSessionRequest{Title: &newTitle})
	if err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	if updated.Title != "Renamed" {
		t.Errorf("Title = %q, want %q", updated.Title, "Renamed")
	}

	stored, _ := st.Get(context.Background(), conv.SessionID)
	if stored.Title != "Renamed" {
		t.Errorf("stored Title = %q, want %q", stored.Title, "Renamed")
	}
	if mirror.updatedFields["title"] != "Renamed" {
		t.Errorf("mirror title = %v, want %q", mirror.updatedFields["title"], "Renamed")
	}
}

func TestUpdateSession_IsActiveOnlyMirrored(t *testing.T) {
	st := newMockStore()
	mirror := &mockMirror{}
	svc := newTestService(st, mirror, &mockGenerator{})

	conv, _ := svc.CreateSession(context.Background(), "user-1", "Keep")

	active := false
	if _, err := svc.UpdateSession(context.Background(), "user-1", conv.SessionID, &UpdateSessionRequest{IsActive: &active}); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	if mirror.updatedFields["is_active"] != false {
		t.Errorf("mirror is_active = %v, want false", mirror.updatedFields["is_active"])
	}
	stored, _ := st.Get(context.Background(), conv.SessionID)
	if stored.Title != "Keep" {
		t.Errorf("stored Title = %q, want unchanged", stored.Title)
	}
}

func TestUpdateSession_WrongOwner(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, &mockMirror{}, &mockGenerator{})

	conv, _ := svc.CreateSession(context.Background(), "owner", "")

	title := "x"
	_, err := svc.UpdateSession(context.Background(), "intruder", conv.SessionID, &UpdateSessionRequest{Title: &title})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("UpdateSession() error = %v, want ErrForbidden", err)
	}
}

// ========== DeleteSession 测试 ==========

func TestDeleteSession(t *testing.T) {
	st := newMockStore()
	mirror := &mockMirror{}
	svc := newTestService(st, mirror, &mockGenerator{})

	conv, _ := svc.CreateSession(context.Background(), "user-1", "")

	if err := svc.DeleteSession(context.Background(), "user-1", conv.SessionID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	if stored, _ := st.Get(context.Background(), conv.SessionID); stored != nil {
		t.Error("session still readable after delete")
	}
	if len(mirror.deletedIDs) != 1 || mirror.deletedIDs[0] != conv.SessionID {
		t.Errorf("mirror deletes = %v, want [%s]", mirror.deletedIDs, conv.SessionID)
	}

	// 再次删除返回 NotFound
	if err := svc.DeleteSession(context.Background(), "user-1", conv.SessionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestDeleteSession_WrongOwner(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, &mockMirror{}, &mockGenerator{})

	conv, _ := svc.CreateSession(context.Background(), "owner", "")

	if err := svc.DeleteSession(context.Background(), "intruder", conv.SessionID); !errors.Is(err, ErrForbidden) {
		t.Errorf("DeleteSession() error = %v, want ErrForbidden", err)
	}
	if stored, _ := st.Get(context.Background(), conv.SessionID); stored == nil {
		t.Error("session should survive forbidden delete")
	}
}

// ========== truncateRunes 测试 ==========

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{
			name:     "short string unchanged",
			input:    "hello",
			n:        30,
			expected: "hello",
		},
		{
			name:     "exact length unchanged",
			input:    strings.Repeat("a", 30),
			n:        30,
			expected: strings.Repeat("a", 30),
		},
		{
			name:     "long string truncated",
			input:    strings.Repeat("a", 31),
			n:        30,
			expected: strings.Repeat("a", 30) + "...",
		},
		{
			name:     "multibyte runes counted as characters",
			input:    strings.Repeat("中", 35),
			n:        30,
			expected: strings.Repeat("中", 30) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncateRunes(tt.input, tt.n)
			if result != tt.expected {
				t.Errorf("truncateRunes() = %q, want %q", result, tt.expected)
			}
		})
	}
}
