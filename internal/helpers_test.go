package internal_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/koopa0/system-design/14-match-relay/internal"
	"github.com/koopa0/system-design/14-match-relay/pkg/logger"
	"github.com/stretchr/testify/require"
)

// testLogger 測試用日誌（丟棄輸出）
func testLogger() *slog.Logger {
	return logger.Discard()
}

// recorder 記錄推送事件的假連線
type recorder struct {
	mu     sync.Mutex
	events []internal.Event
	frames [][]byte
	fail   bool
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) Send(evt internal.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail {
		return errors.New("connection closed")
	}
	frame, err := evt.Encode()
	if err != nil {
		return err
	}
	r.events = append(r.events, evt)
	r.frames = append(r.frames, frame)
	return nil
}

// Events 回傳已收到事件的副本
func (r *recorder) Events() []internal.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]internal.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Frames 回傳實際寫出的位元組
func (r *recorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

// Types 回傳已收到事件的名稱
func (r *recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

// Count 某種事件收到幾次
func (r *recorder) Count(eventType string) int {
	n := 0
	for _, t := range r.Types() {
		if t == eventType {
			n++
		}
	}
	return n
}

// Last 最後一個事件
func (r *recorder) Last(t *testing.T) internal.Event {
	t.Helper()
	events := r.Events()
	require.NotEmpty(t, events, "沒有收到任何事件")
	return events[len(events)-1]
}

// Reset 清除記錄
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.frames = nil
}

// opponentFound 取出 OpponentFound 的內容
func opponentFound(t *testing.T, evt internal.Event) internal.OpponentFoundData {
	t.Helper()
	require.Equal(t, internal.EventOpponentFound, evt.Type)
	data, ok := evt.Data.(internal.OpponentFoundData)
	require.True(t, ok, "unexpected data type %T", evt.Data)
	return data
}

// movePayload 組出 playerMoveFromClient 的 data
func movePayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// connect 連線多個會話
func connect(t *testing.T, lobby *internal.Lobby, ids ...string) map[string]*recorder {
	t.Helper()
	conns := make(map[string]*recorder, len(ids))
	for _, id := range ids {
		conns[id] = newRecorder()
		require.NoError(t, lobby.Connect(id, conns[id]))
	}
	return conns
}
