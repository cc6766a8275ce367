package internal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/14-match-relay/internal/limiter"
	apperrors "github.com/koopa0/system-design/14-match-relay/pkg/errors"
	"github.com/koopa0/system-design/14-match-relay/pkg/logger"
)

// 系統設計問題：
//   如何把一條 WebSocket 連線接到大廳，而不讓網路 I/O 卡住配對邏輯？
//
// 核心挑戰：
//   1. 大廳在鎖內推送事件，推送不能阻塞
//   2. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   3. 斷線只處理一次：讀取錯誤、伺服器關閉都會走到同一個出口
//
// 設計方案：
//   ✅ 每條連線一個緩衝 channel + writePump，Send 只做非阻塞寫入
//   ✅ Ping/Pong 心跳（54s/60s）
//   ✅ readPump 結束時呼叫 Lobby.Disconnect，大廳本身保證冪等

var (
	errConnectionClosed   = errors.New("connection closed")
	errSendBufferFull     = errors.New("send buffer full")
	errTooManyConnections = errors.New("too many connections")
)

// WebSocketHub WebSocket 連接中心
type WebSocketHub struct {
	lobby       *Lobby
	logger      *slog.Logger
	cfg         WebSocketConfig
	rateLimit   RateLimitConfig
	upgrader    websocket.Upgrader
	connections map[string]*Connection // sessionID -> Connection
	mu          sync.RWMutex
	wg          sync.WaitGroup
	stopped     bool
}

// Connection WebSocket 連接
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Hub  *WebSocketHub

	ctx     context.Context // 日誌上下文，帶 session_id
	send    chan []byte
	limiter *limiter.TokenBucket
	mu      sync.Mutex
	closed  bool
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(lobby *Lobby, cfg WebSocketConfig, rateLimit RateLimitConfig, logger *slog.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		lobby:       lobby,
		logger:      logger,
		cfg:         cfg,
		rateLimit:   rateLimit,
		connections: make(map[string]*Connection),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return hub
}

// checkOrigin 檢查握手來源
//
// 沒有 Origin 標頭的請求（非瀏覽器客戶端）一律放行。
func (hub *WebSocketHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(hub.cfg.AllowedOrigins, "*") {
		return true
	}
	for _, allowed := range hub.cfg.AllowedOrigins {
		if allowed == origin || allowed+"/" == origin || allowed == origin+"/" {
			return true
		}
	}
	hub.logger.Warn("拒絕來源", "origin", origin)
	return false
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	hub.mu.RLock()
	full := hub.cfg.MaxConnections > 0 && len(hub.connections) >= hub.cfg.MaxConnections
	stopped := hub.stopped
	hub.mu.RUnlock()

	if stopped {
		http.Error(w, "服務器關閉中", http.StatusServiceUnavailable)
		return
	}
	if full {
		hub.logger.Warn("連接數已達上限", "max_connections", hub.cfg.MaxConnections)
		http.Error(w, "連接數已達上限", http.StatusServiceUnavailable)
		return
	}

	// 升級為 WebSocket 連接
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	id := uuid.NewString()
	connection := &Connection{
		ID:      id,
		Conn:    conn,
		Hub:     hub,
		ctx:     logger.WithSessionID(context.Background(), id),
		send:    make(chan []byte, hub.cfg.SendBuffer),
		limiter: limiter.NewTokenBucket(hub.rateLimit.Capacity, hub.rateLimit.RefillPerSecond),
	}

	if err := hub.register(connection); err != nil {
		// 升級後已無法回傳 HTTP 狀態碼，改用關閉幀告知原因
		code := websocket.CloseGoingAway
		if errors.Is(err, errTooManyConnections) {
			code = websocket.CloseTryAgainLater
		}
		hub.logger.WarnContext(connection.ctx, "註冊連接失敗", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, err.Error()),
			time.Now().Add(hub.cfg.WriteWait))
		connection.close()
		conn.Close()
		return
	}

	// 啟動讀寫 goroutine
	go connection.writePump()
	go connection.readPump()

	hub.logger.InfoContext(connection.ctx, "WebSocket 連接建立", "remote_addr", r.RemoteAddr)
}

// register 註冊連接並登記到大廳
//
// ServeWS 的上限檢查只是提早回 503，並發握手時以這裡的檢查為準。
func (hub *WebSocketHub) register(conn *Connection) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return errConnectionClosed
	}
	if hub.cfg.MaxConnections > 0 && len(hub.connections) >= hub.cfg.MaxConnections {
		return errTooManyConnections
	}
	if _, exists := hub.connections[conn.ID]; exists {
		return apperrors.ErrDuplicateSession.WithDetails(conn.ID)
	}
	if err := hub.lobby.Connect(conn.ID, conn); err != nil {
		return err
	}

	hub.connections[conn.ID] = conn
	hub.wg.Add(2) // readPump + writePump
	return nil
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(conn *Connection) {
	hub.mu.Lock()
	if actual, exists := hub.connections[conn.ID]; exists && actual == conn {
		delete(hub.connections, conn.ID)
	}
	hub.mu.Unlock()

	conn.close()
}

// Stop 停止 WebSocket Hub
//
// 關閉所有底層連線，readPump 會因此結束並走一般的斷線流程。
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	conns := make([]*Connection, 0, len(hub.connections))
	for _, conn := range hub.connections {
		conns = append(conns, conn)
	}
	hub.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		conn.Conn.Close()
	}

	hub.wg.Wait()
	hub.logger.Info("WebSocket Hub 已停止", "closed_connections", len(conns))
}

// ConnectionCount 獲取連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Send 實現 Sender，非阻塞地把事件放進發送緩衝
func (c *Connection) Send(evt Event) error {
	data, err := evt.Encode()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode "+evt.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnectionClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		// 慢客戶端不拖累大廳，丟棄並回報
		return errSendBufferFull
	}
}

// close 關閉發送緩衝，只會執行一次
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump 讀取客戶端消息
//
// 心跳（讀取端）：pong_wait 內沒有收到任何訊息（包括 Pong）就關閉連接。
// 結束時先讓大廳處理斷線（通知對手），再關閉發送緩衝。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.lobby.Disconnect(c.ID)
		c.Hub.unregister(c)
		c.Conn.Close()
		c.Hub.wg.Done()

		c.Hub.logger.InfoContext(c.ctx, "WebSocket 連接關閉")
	}()

	cfg := c.Hub.cfg
	c.Conn.SetReadLimit(cfg.ReadLimit)

	if err := c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
		c.Hub.logger.ErrorContext(c.ctx, "設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.Hub.logger.WarnContext(c.ctx, "訊息超過大小上限，關閉連接", "read_limit", cfg.ReadLimit)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WarnContext(c.ctx, "WebSocket 讀取錯誤", "error", err)
			}
			return
		}

		// 任何訊息都代表連線存活
		if err := c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
			c.Hub.logger.ErrorContext(c.ctx, "設置讀取期限失敗", "error", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if !c.limiter.Allow() {
			c.Hub.logger.WarnContext(c.ctx, "訊息過於頻繁，已丟棄")
			continue
		}

		c.handleMessage(message)
	}
}

// writePump 寫入消息到客戶端
//
// 心跳（發送端）：每 ping_period 送出 Ping，預設 54 秒，
// 比 60 秒的讀取期限早 6 秒，留給網路延遲。
func (c *Connection) writePump() {
	cfg := c.Hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.Hub.logger.ErrorContext(c.ctx, "設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 發送緩衝已關閉，優雅關閉連接（忽略錯誤，連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, next); err != nil {
					c.Hub.logger.ErrorContext(c.ctx, "發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.Hub.logger.ErrorContext(c.ctx, "設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端消息
//
// 格式錯誤的訊息只記錄，不關閉連接，也不影響其他會話。
func (c *Connection) handleMessage(message []byte) {
	in, err := DecodeInbound(message)
	if err != nil {
		c.Hub.logger.WarnContext(c.ctx, "解析客戶端消息失敗", "error", err)
		return
	}

	switch in.Type {
	case EventRequestToPlay:
		name, err := in.PlayerName()
		if err != nil {
			c.Hub.logger.WarnContext(c.ctx, "無效的配對請求", "error", err)
			return
		}
		if err := c.Hub.lobby.RequestMatch(c.ID, name); err != nil {
			level := slog.LevelWarn
			if apperrors.IsNotFound(err) {
				level = slog.LevelDebug
			}
			c.Hub.logger.Log(c.ctx, level, "配對請求失敗", "error", err)
		}

	case EventMoveFromClient:
		c.Hub.lobby.RelayMove(c.ID, in.Data)

	case EventPing:
		if err := c.Send(Event{Type: EventPong}); err != nil {
			c.Hub.logger.DebugContext(c.ctx, "回應 pong 失敗", "error", err)
		}

	default:
		c.Hub.logger.DebugContext(c.ctx, "收到未知消息類型", "type", in.Type)
	}
}
