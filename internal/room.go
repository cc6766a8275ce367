package internal

import (
	"time"
)

// 系統設計問題：
//   兩名玩家配對成功後，如何保證「一個玩家同時只屬於一個房間」，
//   並且在任一方斷線時只清理一次？
//
// 核心挑戰：
//   1. 互補角色：兩名成員必須一個 circle、一個 cross
//   2. 單次銷毀：兩名玩家幾乎同時斷線時，房間不能被銷毀兩次
//   3. 無殘留引用：銷毀後從任何索引都找不到該房間
//
// 設計方案：
//   ✅ 房間只引用 Session，不擁有它（Registry 才是擁有者）
//   ✅ 簡單狀態機：playing → closed，closed 之後的操作都是 no-op
//   ✅ 由 RoomManager 維護 sessionID → roomID 的直接索引

// RoomStatus 房間狀態
//
//	playing → closed
//
// 沒有重賽與觀戰，房間建立即進入對局，第一次斷線即關閉。
type RoomStatus string

const (
	StatusPlaying RoomStatus = "playing" // 對局進行中
	StatusClosed  RoomStatus = "closed"  // 房間已關閉
)

// Member 房間成員
type Member struct {
	Session *Session
	Role    Role
}

// Room 兩人對局房間
type Room struct {
	ID        string
	Members   [2]Member
	Status    RoomStatus
	CreatedAt time.Time
	ClosedAt  time.Time
}

// NewRoom 創建房間
func NewRoom(id string, a, b Member) *Room {
	return &Room{
		ID:        id,
		Members:   [2]Member{a, b},
		Status:    StatusPlaying,
		CreatedAt: time.Now(),
	}
}

// Member 查詢房間中的成員
func (r *Room) Member(sessionID string) (Member, bool) {
	for _, m := range r.Members {
		if m.Session.ID == sessionID {
			return m, true
		}
	}
	return Member{}, false
}

// Peer 查詢某成員的對手
func (r *Room) Peer(sessionID string) (Member, bool) {
	switch sessionID {
	case r.Members[0].Session.ID:
		return r.Members[1], true
	case r.Members[1].Session.ID:
		return r.Members[0], true
	}
	return Member{}, false
}

// close 關閉房間並釋放兩名成員
func (r *Room) close() bool {
	if r.Status == StatusClosed {
		return false
	}

	r.Status = StatusClosed
	r.ClosedAt = time.Now()
	for _, m := range r.Members {
		m.Session.Playing = false
	}
	return true
}

// RoomInfo 房間快照，可在鎖外安全讀取
type RoomInfo struct {
	ID        string       `json:"room_id"`
	Status    RoomStatus   `json:"status"`
	Players   []PlayerInfo `json:"players"`
	CreatedAt time.Time    `json:"created_at"`
}

// PlayerInfo 房間成員快照
type PlayerInfo struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Info 取得房間快照（呼叫方需持有大廳的鎖）
func (r *Room) Info() RoomInfo {
	players := make([]PlayerInfo, 0, len(r.Members))
	for _, m := range r.Members {
		players = append(players, PlayerInfo{
			SessionID:   m.Session.ID,
			DisplayName: m.Session.DisplayName,
			Role:        m.Role,
		})
	}

	return RoomInfo{
		ID:        r.ID,
		Status:    r.Status,
		Players:   players,
		CreatedAt: r.CreatedAt,
	}
}
