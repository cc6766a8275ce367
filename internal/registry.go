package internal

import (
	"iter"
	"slices"
	"time"

	apperrors "github.com/koopa0/system-design/14-match-relay/pkg/errors"
)

// Session 一條已連線客戶端的伺服器端記錄
type Session struct {
	ID          string    `json:"session_id"`
	DisplayName string    `json:"display_name"`
	Online      bool      `json:"online"`
	Playing     bool      `json:"playing"`
	ConnectedAt time.Time `json:"connected_at"`

	conn Sender
}

// Notify 推送事件給這個會話的連線
func (s *Session) Notify(evt Event) error {
	if s.conn == nil {
		return apperrors.ErrSessionNotFound.WithDetails("no connection for " + s.ID)
	}
	return s.conn.Send(evt)
}

// Idle 是否可被配對
func (s *Session) Idle() bool {
	return s.Online && !s.Playing
}

// Registry 連線註冊表
//
// 系統設計考量：
//
//  1. 插入順序：
//     配對採 first-fit，掃描順序必須穩定，map 的遍歷順序是隨機的，
//     因此另外維護 order 切片記錄連線先後。
//
//  2. 安全移除：
//     掃描期間不做任何刪除；Remove 以 slices.Delete 重建切片，
//     不會出現邊遍歷邊刪除造成的跳過元素問題。
//
//  3. 並發：
//     Registry 本身不加鎖，所有存取都在 Lobby 的臨界區內進行。
type Registry struct {
	sessions map[string]*Session // sessionID -> Session
	order    []string            // 連線順序
}

// NewRegistry 創建註冊表
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register 註冊新連線
func (r *Registry) Register(id string, conn Sender) (*Session, error) {
	if _, exists := r.sessions[id]; exists {
		return nil, apperrors.ErrDuplicateSession.WithDetails(id)
	}

	session := &Session{
		ID:          id,
		Online:      true,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
	r.sessions[id] = session
	r.order = append(r.order, id)

	return session, nil
}

// Lookup 查詢會話
func (r *Registry) Lookup(id string) (*Session, error) {
	session, exists := r.sessions[id]
	if !exists {
		return nil, apperrors.ErrSessionNotFound.WithDetails(id)
	}
	return session, nil
}

// MarkOffline 標記離線，未知 ID 不視為錯誤
func (r *Registry) MarkOffline(id string) {
	if session, exists := r.sessions[id]; exists {
		session.Online = false
		session.Playing = false
	}
}

// Remove 清除離線會話的記錄
func (r *Registry) Remove(id string) {
	if _, exists := r.sessions[id]; !exists {
		return
	}
	delete(r.sessions, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// All 依連線順序遍歷所有會話（包含離線中的）
func (r *Registry) All() iter.Seq[*Session] {
	return func(yield func(*Session) bool) {
		for _, id := range r.order {
			if !yield(r.sessions[id]) {
				return
			}
		}
	}
}

// FirstIdle 依連線順序找出第一個可配對的會話
func (r *Registry) FirstIdle(excludeID string) *Session {
	for session := range r.All() {
		if session.ID != excludeID && session.Idle() {
			return session
		}
	}
	return nil
}

// Len 目前記錄的會話數
func (r *Registry) Len() int {
	return len(r.sessions)
}
