package internal

import (
	"encoding/json"

	apperrors "github.com/koopa0/system-design/14-match-relay/pkg/errors"
)

// 入站事件（客戶端 → 服務器）
const (
	EventRequestToPlay  = "request_to_play"
	EventMoveFromClient = "playerMoveFromClient"
	EventPing           = "ping"
)

// 出站事件（服務器 → 客戶端）
const (
	EventOpponentFound    = "OpponentFound"
	EventOpponentNotFound = "OpponentNotFound"
	EventMoveFromServer   = "playerMoveFromServer"
	EventOpponentLeft     = "opponentLeftMatch"
	EventPong             = "pong"
)

// Role 對局中的角色
type Role string

const (
	RoleCircle Role = "circle" // 發起配對的一方
	RoleCross  Role = "cross"  // 被配對到的閒置一方
)

// Opponent 回傳對手的角色
func (r Role) Opponent() Role {
	if r == RoleCircle {
		return RoleCross
	}
	return RoleCircle
}

// Event 推送給客戶端的事件
//
// 線上格式：{"event": "<名稱>", "data": <內容>}
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// OpponentFoundData OpponentFound 事件內容
type OpponentFoundData struct {
	OpponentName string `json:"opponentName"`
	PlayingAs    Role   `json:"playingAs"`
}

// Encode 序列化事件
//
// Data 為 json.RawMessage 時原樣寫出，不經過 json.Marshal 的壓縮與轉義，
// 轉發的棋步因此與客戶端送出的位元組完全一致。
func (e Event) Encode() ([]byte, error) {
	raw, ok := e.Data.(json.RawMessage)
	if !ok {
		return json.Marshal(e)
	}

	name, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	buf := make([]byte, 0, len(name)+len(raw)+20)
	buf = append(buf, `{"event":`...)
	buf = append(buf, name...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, raw...)
	buf = append(buf, '}')
	return buf, nil
}

// Inbound 客戶端送來的事件
type Inbound struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// DecodeInbound 解析客戶端訊息
func DecodeInbound(message []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(message, &in); err != nil {
		return Inbound{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed frame")
	}
	if in.Type == "" {
		return Inbound{}, apperrors.ErrInvalidPayload.WithDetails("missing event name")
	}
	return in, nil
}

// PlayerName 取出 request_to_play 的 playerName
func (in Inbound) PlayerName() (string, error) {
	var req struct {
		PlayerName *string `json:"playerName"`
	}
	if len(in.Data) == 0 {
		return "", apperrors.ErrInvalidPayload.WithDetails("missing data")
	}
	if err := json.Unmarshal(in.Data, &req); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request_to_play data")
	}
	if req.PlayerName == nil {
		return "", apperrors.ErrInvalidPayload.WithDetails("missing playerName")
	}
	return *req.PlayerName, nil
}

// Sender 推送事件給單一連線
//
// 實作必須是非阻塞的：推送在大廳的臨界區內執行。
type Sender interface {
	Send(evt Event) error
}
