package internal

import (
	"github.com/koopa0/system-design/14-match-relay/internal/events"
	apperrors "github.com/koopa0/system-design/14-match-relay/pkg/errors"
)

// RequestMatch 處理玩家的配對請求
//
// 流程：
//  1. 記錄顯示名稱
//  2. 依連線順序找第一個 online 且未在對局中的其他玩家（first-fit，不排隊）
//  3. 找到：建立房間，對手為 cross、請求者為 circle，通知雙方並啟用轉發
//  4. 找不到：只通知請求者 OpponentNotFound，請求者需自行再次請求
//
// 掃描與配對在同一個臨界區內完成，兩個並發請求不會選中同一名對手。
func (l *Lobby) RequestMatch(requesterID, displayName string) error {
	l.mu.Lock()
	started, err := l.requestMatchLocked(requesterID, displayName)
	l.mu.Unlock()

	if started != nil {
		l.publish(*started)
	}
	return err
}

func (l *Lobby) requestMatchLocked(requesterID, displayName string) (*events.MatchEvent, error) {
	requester, err := l.registry.Lookup(requesterID)
	if err != nil {
		return nil, err
	}
	if !requester.Online {
		return nil, apperrors.ErrSessionNotFound.WithDetails(requesterID + " is offline")
	}

	requester.DisplayName = displayName

	// 已在對局中的玩家不會被放進第二個房間
	if requester.Playing {
		l.logger.Debug("忽略配對請求：玩家已在對局中", "session_id", requesterID)
		return nil, nil
	}

	opponent := l.registry.FirstIdle(requesterID)
	if opponent == nil {
		l.notify(requester, Event{Type: EventOpponentNotFound})
		l.logger.Debug("找不到對手", "session_id", requesterID, "player_name", displayName)
		return nil, nil
	}

	room, err := l.rooms.Create(
		Member{Session: opponent, Role: RoleCross},
		Member{Session: requester, Role: RoleCircle},
	)
	if err != nil {
		return nil, err
	}
	l.relay.Bind(room)

	l.notify(requester, Event{
		Type: EventOpponentFound,
		Data: OpponentFoundData{OpponentName: opponent.DisplayName, PlayingAs: RoleCircle},
	})
	l.notify(opponent, Event{
		Type: EventOpponentFound,
		Data: OpponentFoundData{OpponentName: requester.DisplayName, PlayingAs: RoleCross},
	})

	l.logger.Info("配對成功",
		"room_id", room.ID,
		"circle", requester.ID,
		"cross", opponent.ID,
		"rooms", l.rooms.Count())

	evt := matchEvent(events.TypeMatchStarted, room, "")
	return &evt, nil
}
