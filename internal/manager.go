package internal

import (
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/koopa0/system-design/14-match-relay/pkg/errors"
)

// RoomManager 房間管理器
//
// 系統設計考量：
//
//  1. 直接索引（roomBySession）：
//     斷線時要找出玩家所在房間，線性掃描所有房間是 O(n)，
//     改用 sessionID → roomID 的索引降為 O(1)。
//     索引與 rooms 在同一次呼叫內更新，不會出現只更新一半的狀態。
//
//  2. 冪等銷毀：
//     Destroy 第二次呼叫直接返回 false，
//     兩名玩家同時斷線時只有第一個會真正清理房間。
//
//  3. 並發：
//     與 Registry 相同，本身不加鎖，由 Lobby 的臨界區保護。
type RoomManager struct {
	rooms         map[string]*Room  // roomID -> Room
	roomBySession map[string]string // sessionID -> roomID
	newID         func() string
}

// NewRoomManager 創建房間管理器
func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:         make(map[string]*Room),
		roomBySession: make(map[string]string),
		newID:         uuid.NewString,
	}
}

// Create 為兩名成員建立房間
//
// 成員會被標記為 playing，與索引一起更新。
func (m *RoomManager) Create(a, b Member) (*Room, error) {
	if a.Session == nil || b.Session == nil {
		return nil, apperrors.ErrInvalidPayload.WithDetails("room member without session")
	}
	if a.Session.ID == b.Session.ID {
		return nil, apperrors.ErrSameSession.WithDetails(a.Session.ID)
	}
	if a.Role == b.Role || a.Role.Opponent() != b.Role {
		return nil, apperrors.ErrInvalidPayload.WithDetails(
			fmt.Sprintf("roles must be complementary, got %s/%s", a.Role, b.Role))
	}
	for _, s := range []*Session{a.Session, b.Session} {
		if roomID, exists := m.roomBySession[s.ID]; exists {
			return nil, apperrors.ErrDuplicateRoom.WithDetails(
				fmt.Sprintf("session %s already in room %s", s.ID, roomID))
		}
	}

	room := NewRoom(m.newID(), a, b)
	if _, exists := m.rooms[room.ID]; exists {
		return nil, apperrors.ErrDuplicateRoom.WithDetails(room.ID)
	}

	m.rooms[room.ID] = room
	m.roomBySession[a.Session.ID] = room.ID
	m.roomBySession[b.Session.ID] = room.ID
	a.Session.Playing = true
	b.Session.Playing = true

	return room, nil
}

// Get 獲取房間
func (m *RoomManager) Get(roomID string) (*Room, error) {
	room, exists := m.rooms[roomID]
	if !exists {
		return nil, apperrors.ErrRoomNotFound.WithDetails(roomID)
	}
	return room, nil
}

// FindByMember 查詢玩家所在房間
func (m *RoomManager) FindByMember(sessionID string) (*Room, error) {
	roomID, exists := m.roomBySession[sessionID]
	if !exists {
		return nil, apperrors.ErrRoomNotFound.WithDetails("no room for session " + sessionID)
	}
	return m.Get(roomID)
}

// Destroy 銷毀房間，重複呼叫為 no-op
func (m *RoomManager) Destroy(roomID string) (*Room, bool) {
	room, exists := m.rooms[roomID]
	if !exists {
		return nil, false
	}

	for _, member := range room.Members {
		if m.roomBySession[member.Session.ID] == roomID {
			delete(m.roomBySession, member.Session.ID)
		}
	}
	delete(m.rooms, roomID)

	return room, room.close()
}

// Count 進行中的房間數
func (m *RoomManager) Count() int {
	return len(m.rooms)
}
