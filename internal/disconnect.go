package internal

import (
	"github.com/koopa0/system-design/14-match-relay/internal/events"
)

// 斷線原因
const (
	ReasonOpponentLeft = "opponent_left"
)

// Disconnect 處理玩家斷線
//
// 流程（同一個臨界區）：
//  1. 標記離線（冪等）
//  2. 查詢所在房間，沒有就結束
//  3. 通知對手一次 opponentLeftMatch，停止轉發並銷毀房間
//  4. 從註冊表移除，之後不會再被配對
//
// 重複呼叫或未知 ID 不會產生任何通知。
func (l *Lobby) Disconnect(sessionID string) {
	l.mu.Lock()
	ended := l.disconnectLocked(sessionID)
	l.mu.Unlock()

	if ended != nil {
		l.publish(*ended)
	}
}

func (l *Lobby) disconnectLocked(sessionID string) *events.MatchEvent {
	if _, err := l.registry.Lookup(sessionID); err != nil {
		return nil
	}

	l.registry.MarkOffline(sessionID)
	defer l.registry.Remove(sessionID)

	room, err := l.rooms.FindByMember(sessionID)
	if err != nil {
		l.logger.Debug("玩家斷線（無對局）", "session_id", sessionID)
		return nil
	}

	// 在銷毀前建立事件，保留成員資訊
	evt := matchEvent(events.TypeMatchEnded, room, ReasonOpponentLeft)

	if peer, ok := room.Peer(sessionID); ok {
		l.notify(peer.Session, Event{Type: EventOpponentLeft})
	}

	l.relay.Unbind(room.ID)
	if _, destroyed := l.rooms.Destroy(room.ID); !destroyed {
		return nil
	}

	l.logger.Info("玩家斷線，房間已銷毀",
		"session_id", sessionID,
		"room_id", room.ID,
		"rooms", l.rooms.Count())

	return &evt
}
