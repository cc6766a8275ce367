package internal_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-match-relay/internal"
	"github.com/koopa0/system-design/14-match-relay/pkg/logger"
)

// testServer 測試用服務器
type testServer struct {
	srv   *httptest.Server
	lobby *internal.Lobby
	hub   *internal.WebSocketHub
}

func newTestServer(t *testing.T, mutate func(cfg *internal.Config)) *testServer {
	t.Helper()
	return newTestServerWithLogger(t, mutate, testLogger())
}

func newTestServerWithLogger(t *testing.T, mutate func(cfg *internal.Config), log *slog.Logger) *testServer {
	t.Helper()

	cfg := internal.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	lobby := internal.NewLobby(log, nil)
	hub := internal.NewWebSocketHub(lobby, cfg.WebSocket, cfg.RateLimit, log)
	handler := internal.NewHandler(lobby, hub, log)

	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Stop)

	return &testServer{srv: srv, lobby: lobby, hub: hub}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// dial 建立 WebSocket 連線
func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// wireEvent 客戶端收到的事件
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	return message
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	var evt wireEvent
	require.NoError(t, json.Unmarshal(readRaw(t, conn), &evt))
	return evt
}

func sendText(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(message)))
}

func requestToPlay(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	sendText(t, conn, `{"event":"request_to_play","data":{"playerName":"`+name+`"}}`)
}

func expectOpponentFound(t *testing.T, conn *websocket.Conn, name string, role internal.Role) {
	t.Helper()
	evt := readEvent(t, conn)
	require.Equal(t, internal.EventOpponentFound, evt.Event)

	var data internal.OpponentFoundData
	require.NoError(t, json.Unmarshal(evt.Data, &data))
	assert.Equal(t, name, data.OpponentName)
	assert.Equal(t, role, data.PlayingAs)
}

// TestWebSocket_Scenario 透過真實連線跑完整流程
func TestWebSocket_Scenario(t *testing.T) {
	s := newTestServer(t, nil)

	x := s.dial(t)
	requestToPlay(t, x, "X")
	assert.Equal(t, internal.EventOpponentNotFound, readEvent(t, x).Event)

	y := s.dial(t)
	requestToPlay(t, y, "Y")
	expectOpponentFound(t, x, "Y", internal.RoleCircle)
	expectOpponentFound(t, y, "X", internal.RoleCross)

	z := s.dial(t)
	requestToPlay(t, z, "Z")
	assert.Equal(t, internal.EventOpponentNotFound, readEvent(t, z).Event)

	// 棋步原封不動轉發
	sendText(t, x, `{"event":"playerMoveFromClient","data":{ "state" : [["circle","",""]], "id":0 }}`)
	assert.Equal(t,
		`{"event":"playerMoveFromServer","data":{ "state" : [["circle","",""]], "id":0 }}`,
		string(readRaw(t, y)))

	sendText(t, y, `{"event":"playerMoveFromClient","data":[1,2,3]}`)
	assert.Equal(t, `{"event":"playerMoveFromServer","data":[1,2,3]}`, string(readRaw(t, x)))

	// X 離開，Y 收到 opponentLeftMatch
	require.NoError(t, x.Close())
	assert.Equal(t, internal.EventOpponentLeft, readEvent(t, y).Event)

	// Y 再次請求，與 Z 配對
	requestToPlay(t, y, "Y")
	expectOpponentFound(t, y, "Z", internal.RoleCircle)
	expectOpponentFound(t, z, "Y", internal.RoleCross)

	assert.Eventually(t, func() bool {
		return s.lobby.Stats() == internal.Stats{Online: 2, Playing: 2, Rooms: 1, Relays: 1} &&
			s.hub.ConnectionCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

// TestWebSocket_MalformedFrames 格式錯誤的訊息不會關閉連線
func TestWebSocket_MalformedFrames(t *testing.T) {
	s := newTestServer(t, nil)
	conn := s.dial(t)

	for _, message := range []string{
		`not json`,
		`{"data":{}}`,
		`{"event":"request_to_play","data":{}}`,
		`{"event":"request_to_play"}`,
		`{"event":"unknown_event","data":1}`,
		`{"event":"playerMoveFromClient","data":{"id":1}}`,
	} {
		sendText(t, conn, message)
	}

	sendText(t, conn, `{"event":"ping"}`)
	assert.Equal(t, internal.EventPong, readEvent(t, conn).Event)
	assert.Equal(t, 1, s.hub.ConnectionCount())
}

// TestWebSocket_Origin 測試來源檢查
func TestWebSocket_Origin(t *testing.T) {
	s := newTestServer(t, func(cfg *internal.Config) {
		cfg.WebSocket.AllowedOrigins = []string{"https://game.example.com"}
	})

	tests := []struct {
		name       string
		origin     string
		wantStatus int
	}{
		{name: "allowed", origin: "https://game.example.com", wantStatus: http.StatusSwitchingProtocols},
		{name: "trailing slash", origin: "https://game.example.com/", wantStatus: http.StatusSwitchingProtocols},
		{name: "rejected", origin: "https://evil.example.com", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			header.Set("Origin", tt.origin)

			conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), header)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus != http.StatusSwitchingProtocols {
				assert.ErrorIs(t, err, websocket.ErrBadHandshake)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
}

// TestWebSocket_MaxConnections 超過連線上限回傳 503
func TestWebSocket_MaxConnections(t *testing.T) {
	s := newTestServer(t, func(cfg *internal.Config) {
		cfg.WebSocket.MaxConnections = 1
	})

	s.dial(t)
	require.Eventually(t, func() bool {
		return s.hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// TestWebSocket_RateLimit 超過頻率的訊息被丟棄
func TestWebSocket_RateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *internal.Config) {
		cfg.RateLimit.Capacity = 2
		cfg.RateLimit.RefillPerSecond = 1
	})
	conn := s.dial(t)

	for range 5 {
		sendText(t, conn, `{"event":"ping"}`)
	}

	pongs := 0
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if strings.Contains(string(message), internal.EventPong) {
			pongs++
		}
	}
	assert.GreaterOrEqual(t, pongs, 2)
	assert.Less(t, pongs, 5)
}

// TestWebSocket_Stop 關閉 Hub 時所有連線走斷線流程
func TestWebSocket_Stop(t *testing.T) {
	s := newTestServer(t, nil)

	a := s.dial(t)
	requestToPlay(t, a, "A")
	assert.Equal(t, internal.EventOpponentNotFound, readEvent(t, a).Event)

	b := s.dial(t)
	requestToPlay(t, b, "B")
	expectOpponentFound(t, b, "A", internal.RoleCircle)

	s.hub.Stop()

	assert.Equal(t, 0, s.hub.ConnectionCount())
	assert.Equal(t, internal.Stats{}, s.lobby.Stats())

	// 關閉後拒絕新連線
	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// pair 建立兩條連線並讓它們配對，回傳 (circle, cross)
func (s *testServer) pair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	cross := s.dial(t)
	requestToPlay(t, cross, "cross")
	require.Equal(t, internal.EventOpponentNotFound, readEvent(t, cross).Event)

	circle := s.dial(t)
	requestToPlay(t, circle, "circle")
	expectOpponentFound(t, circle, "cross", internal.RoleCircle)
	expectOpponentFound(t, cross, "circle", internal.RoleCross)
	return circle, cross
}

// TestWebSocket_LargeMove 數 KB 的棋步照常轉發
func TestWebSocket_LargeMove(t *testing.T) {
	s := newTestServer(t, nil)
	circle, cross := s.pair(t)

	data := `"` + strings.Repeat("a", 5000) + `"`
	sendText(t, circle, `{"event":"playerMoveFromClient","data":`+data+`}`)
	assert.Equal(t, `{"event":"playerMoveFromServer","data":`+data+`}`, string(readRaw(t, cross)))
}

// TestWebSocket_OversizedFrame 超過 read_limit 的訊息在傳輸層關閉連接，對局隨之結束
func TestWebSocket_OversizedFrame(t *testing.T) {
	s := newTestServer(t, func(cfg *internal.Config) {
		cfg.WebSocket.ReadLimit = 1024
	})
	circle, cross := s.pair(t)

	sendText(t, circle, `{"event":"playerMoveFromClient","data":"`+strings.Repeat("a", 2000)+`"}`)

	// 送出者的連接被關閉
	require.NoError(t, circle.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := circle.ReadMessage()
	require.Error(t, err)

	// 對手只收到一次 opponentLeftMatch，不會收到棋步
	assert.Equal(t, internal.EventOpponentLeft, readEvent(t, cross).Event)
	require.NoError(t, cross.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = cross.ReadMessage()
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	assert.Eventually(t, func() bool {
		return s.lobby.Stats() == internal.Stats{Online: 1, Idle: 1} &&
			s.hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestWebSocket_MaxConnectionsConcurrent 並發握手也不會超過連線上限
func TestWebSocket_MaxConnectionsConcurrent(t *testing.T) {
	const limit = 3

	s := newTestServer(t, func(cfg *internal.Config) {
		cfg.WebSocket.MaxConnections = limit
	})

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns []*websocket.Conn
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}()
	}
	wg.Wait()
	t.Cleanup(func() {
		for _, conn := range conns {
			conn.Close()
		}
	})

	assert.GreaterOrEqual(t, len(conns), 1)
	assert.LessOrEqual(t, s.hub.ConnectionCount(), limit)
	assert.LessOrEqual(t, s.lobby.Stats().Online, limit)
}

// syncBuffer 可並發寫入的緩衝區
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestWebSocket_LogsCarrySessionID 連線相關日誌帶有 session_id
func TestWebSocket_LogsCarrySessionID(t *testing.T) {
	var out syncBuffer
	s := newTestServerWithLogger(t, nil, logger.New("debug", "json", &out))
	conn := s.dial(t)

	sendText(t, conn, `not json`)
	sendText(t, conn, `{"event":"ping"}`)
	require.Equal(t, internal.EventPong, readEvent(t, conn).Event)

	var sessionID string
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		var record map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		if record["msg"] == "解析客戶端消息失敗" {
			sessionID, _ = record["session_id"].(string)
		}
	}
	assert.NotEmpty(t, sessionID)
}
