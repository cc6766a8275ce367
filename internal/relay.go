package internal

import (
	"encoding/json"

	apperrors "github.com/koopa0/system-design/14-match-relay/pkg/errors"
)

// Relay 棋步轉發
//
// 每個房間一筆轉發綁定，以 roomID 為鍵。
// 房間銷毀前先 Unbind，之後任何來自舊連線的棋步都找不到綁定，
// 不會被送進對手已經加入的新房間。
type Relay struct {
	bindings map[string]*binding // roomID -> binding
}

type binding struct {
	roomID  string
	members [2]*Session
}

func (b *binding) peerOf(sessionID string) (*Session, bool) {
	switch sessionID {
	case b.members[0].ID:
		return b.members[1], true
	case b.members[1].ID:
		return b.members[0], true
	}
	return nil, false
}

// NewRelay 創建轉發器
func NewRelay() *Relay {
	return &Relay{
		bindings: make(map[string]*binding),
	}
}

// Bind 啟用房間的雙向轉發
func (r *Relay) Bind(room *Room) {
	r.bindings[room.ID] = &binding{
		roomID:  room.ID,
		members: [2]*Session{room.Members[0].Session, room.Members[1].Session},
	}
}

// Unbind 停止房間的轉發，回傳是否有綁定被移除
func (r *Relay) Unbind(roomID string) bool {
	if _, exists := r.bindings[roomID]; !exists {
		return false
	}
	delete(r.bindings, roomID)
	return true
}

// Bound 房間是否啟用轉發
func (r *Relay) Bound(roomID string) bool {
	_, exists := r.bindings[roomID]
	return exists
}

// Forward 將棋步原封不動轉給同房間的對手
func (r *Relay) Forward(roomID, fromSessionID string, payload json.RawMessage) (*Session, error) {
	b, exists := r.bindings[roomID]
	if !exists {
		return nil, apperrors.ErrRoomNotFound.WithDetails("relay not bound for room " + roomID)
	}

	peer, ok := b.peerOf(fromSessionID)
	if !ok {
		return nil, apperrors.ErrSessionNotFound.WithDetails(fromSessionID + " is not a member of " + roomID)
	}

	return peer, peer.Notify(Event{Type: EventMoveFromServer, Data: payload})
}

// Len 啟用中的綁定數
func (r *Relay) Len() int {
	return len(r.bindings)
}

// RelayMove 轉發玩家的棋步
//
// 不在任何房間（尚未配對或房間已銷毀）時靜默丟棄。
func (l *Lobby) RelayMove(fromSessionID string, payload json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, err := l.rooms.FindByMember(fromSessionID)
	if err != nil {
		l.logger.Debug("丟棄棋步：玩家不在房間中", "session_id", fromSessionID)
		return
	}

	peer, err := l.relay.Forward(room.ID, fromSessionID, payload)
	if err != nil {
		l.logger.Warn("轉發棋步失敗",
			"error", err,
			"room_id", room.ID,
			"session_id", fromSessionID)
		return
	}

	l.logger.Debug("棋步已轉發",
		"room_id", room.ID,
		"from", fromSessionID,
		"to", peer.ID,
		"bytes", len(payload))
}
