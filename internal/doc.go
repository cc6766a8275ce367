// Package internal 實現兩人對局的配對與棋步轉發服務。
//
// 客戶端以 WebSocket 連線後送出 request_to_play，服務器依連線順序
// 找出第一個閒置的玩家配成一局，指派互補的角色（circle / cross），
// 之後把雙方的棋步原封不動轉給對手，任一方斷線時通知另一方並銷毀房間。
//
// # 元件
//
//   - Registry：連線註冊表，記錄每個會話的 online / playing 狀態
//   - RoomManager：房間與 sessionID → roomID 索引
//   - Relay：以房間為單位的棋步轉發綁定，房間銷毀前解除
//   - Lobby：持有上述三者的狀態容器，RequestMatch / RelayMove / Disconnect
//     都在同一把鎖內完成
//   - WebSocketHub：傳輸層，把連線、訊息與斷線交給 Lobby
//
// # 訊息格式
//
// 雙向皆為 JSON 文字幀：
//
//	{"event": "request_to_play", "data": {"playerName": "X"}}
//	{"event": "OpponentFound", "data": {"opponentName": "Y", "playingAs": "circle"}}
//	{"event": "playerMoveFromClient", "data": <任意 JSON>}
//	{"event": "playerMoveFromServer", "data": <與送出時位元組相同>}
//	{"event": "opponentLeftMatch"}
//
// # 不處理的事項
//
// 棋步合法性由客戶端負責；沒有排隊、重連、觀戰與重賽，
// 找不到對手時客戶端需要自行再次送出 request_to_play。
package internal
