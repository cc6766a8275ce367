// Package events 對外發布對局生命週期事件。
//
// 事件只用於通知下游（統計、稽核），配對狀態不依賴它：
// 發布失敗只記錄日誌，不影響房間。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// 事件類型
const (
	TypeMatchStarted = "started"
	TypeMatchEnded   = "ended"
)

// Player 對局成員
type Player struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// MatchEvent 對局生命週期事件
type MatchEvent struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"room_id"`
	Players   []Player  `json:"players"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher 事件發布者
type Publisher interface {
	Publish(ctx context.Context, evt MatchEvent) error
	Close() error
}

// NopPublisher 不發布任何事件
type NopPublisher struct{}

// Publish 實現 Publisher
func (NopPublisher) Publish(context.Context, MatchEvent) error { return nil }

// Close 實現 Publisher
func (NopPublisher) Close() error { return nil }

// NATSPublisher 透過 NATS core 發布事件
//
// Subject 格式：<prefix>.<type>，例如 match.started。
// 使用 core publish 而非 JetStream：事件是 fire-and-forget，
// 不需要持久化（服務本身也不保存跨重啟的狀態）。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher 連接 NATS 並建立發布者
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("match-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
	}, nil
}

// Subject 回傳事件類型對應的 subject
func (p *NATSPublisher) Subject(eventType string) string {
	return Subject(p.prefix, eventType)
}

// Publish 發布事件
func (p *NATSPublisher) Publish(ctx context.Context, evt MatchEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	if err := p.conn.Publish(p.Subject(evt.Type), data); err != nil {
		return fmt.Errorf("發布事件失敗: %w", err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連接
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Subject 組合 subject
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// Recorder 在記憶體中保存事件（測試與除錯用）
type Recorder struct {
	mu     sync.Mutex
	events []MatchEvent
}

// Publish 實現 Publisher
func (r *Recorder) Publish(_ context.Context, evt MatchEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Close 實現 Publisher
func (r *Recorder) Close() error { return nil }

// Events 回傳已記錄事件的副本
func (r *Recorder) Events() []MatchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MatchEvent, len(r.events))
	copy(out, r.events)
	return out
}
