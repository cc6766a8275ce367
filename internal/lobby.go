package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-match-relay/internal/events"
)

// 系統設計問題：
//   如何讓配對、轉發與斷線處理在並發下保持一致？
//
// 核心挑戰：
//   1. 搶同一個對手：兩個 request_to_play 同時掃描到同一名閒置玩家
//   2. 斷線與配對競爭：玩家在被配對的同一刻斷線，房間不能引用離線成員
//   3. 重複通知：一次斷線最多通知對手一次
//
// 設計方案：
//   ✅ 單一狀態容器（Lobby）擁有 Registry、RoomManager、Relay
//   ✅ 一把 Mutex 涵蓋整段「讀取 → 判斷 → 修改」
//   ✅ 推送為非阻塞（寫入連線的緩衝 channel），可以在鎖內完成
//   ✅ 對外發布生命週期事件在釋放鎖之後進行

// Lobby 配對大廳
type Lobby struct {
	mu        sync.Mutex
	registry  *Registry
	rooms     *RoomManager
	relay     *Relay
	publisher events.Publisher
	logger    *slog.Logger
}

// NewLobby 創建配對大廳，publisher 為 nil 時不對外發布事件
func NewLobby(logger *slog.Logger, publisher events.Publisher) *Lobby {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Lobby{
		registry:  NewRegistry(),
		rooms:     NewRoomManager(),
		relay:     NewRelay(),
		publisher: publisher,
		logger:    logger,
	}
}

// Connect 登記新連線
func (l *Lobby) Connect(id string, conn Sender) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.registry.Register(id, conn); err != nil {
		return err
	}

	l.logger.Debug("連線已登記", "session_id", id, "online", l.registry.Len())
	return nil
}

// Session 取得會話快照
func (l *Lobby) Session(id string) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	session, err := l.registry.Lookup(id)
	if err != nil {
		return Session{}, err
	}
	snapshot := *session
	snapshot.conn = nil
	return snapshot, nil
}

// RoomOf 取得玩家所在房間的快照
func (l *Lobby) RoomOf(sessionID string) (RoomInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, err := l.rooms.FindByMember(sessionID)
	if err != nil {
		return RoomInfo{}, err
	}
	return room.Info(), nil
}

// Stats 大廳統計
type Stats struct {
	Online  int `json:"online_sessions"`
	Idle    int `json:"idle_sessions"`
	Playing int `json:"playing_sessions"`
	Rooms   int `json:"active_rooms"`
	Relays  int `json:"active_relays"`
}

// Stats 獲取統計資訊
func (l *Lobby) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats Stats
	for session := range l.registry.All() {
		if !session.Online {
			continue
		}
		stats.Online++
		if session.Playing {
			stats.Playing++
		} else {
			stats.Idle++
		}
	}
	stats.Rooms = l.rooms.Count()
	stats.Relays = l.relay.Len()
	return stats
}

// matchEvent 將房間轉成對外發布的事件（呼叫方需持有鎖）
func matchEvent(kind string, room *Room, reason string) events.MatchEvent {
	evt := events.MatchEvent{
		Type:      kind,
		RoomID:    room.ID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	for _, m := range room.Members {
		evt.Players = append(evt.Players, events.Player{
			SessionID:   m.Session.ID,
			DisplayName: m.Session.DisplayName,
			Role:        string(m.Role),
		})
	}
	return evt
}

// publish 發布生命週期事件，不可在持有鎖時呼叫
func (l *Lobby) publish(evt events.MatchEvent) {
	if err := l.publisher.Publish(context.Background(), evt); err != nil {
		l.logger.Warn("發布對局事件失敗",
			"error", err,
			"type", evt.Type,
			"room_id", evt.RoomID)
	}
}

// notify 推送事件，失敗只記錄（推送不需要確認）
func (l *Lobby) notify(session *Session, evt Event) {
	if err := session.Notify(evt); err != nil {
		l.logger.Warn("推送事件失敗",
			"error", err,
			"event", evt.Type,
			"session_id", session.ID)
	}
}
