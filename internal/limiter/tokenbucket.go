// Package limiter 為每條連線提供入站訊息限流。
//
// 設計考量：
//   - 單機版使用本地記憶體，每條連線一個令牌桶
//   - 執行緒安全（使用 sync.Mutex）
//   - 容量 <= 0 代表不限流
package limiter

import (
	"sync"
	"time"
)

// TokenBucket 令牌桶限流器
//
// 演算法原理：
//  1. 固定容量的桶，以固定速率填充令牌
//  2. 每則訊息到達時嘗試取出一個令牌
//  3. 有令牌則處理，無令牌則丟棄
//
// 桶內可累積令牌，允許玩家短時間內連續送出幾步棋，
// 但持續洪水式發送會被限制在 refillRate。
type TokenBucket struct {
	capacity   float64          // 桶容量
	tokens     float64          // 當前令牌數
	refillRate float64          // 每秒填充多少令牌
	lastRefill time.Time        // 上次填充時間
	now        func() time.Time // 時間來源
	mu         sync.Mutex       // 保護並發存取
}

// NewTokenBucket 建立新的令牌桶限流器。
//
// 範例：
//
//	limiter := NewTokenBucket(20, 10) // 容量 20，每秒填充 10 個
//	limiter.Allow()
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity), // 初始化時桶是滿的
		refillRate: float64(refillRate),
		lastRefill: now(),
		now:        now,
	}
}

// Allow 檢查是否允許處理一則訊息。
//
// 時間複雜度：O(1)
func (tb *TokenBucket) Allow() bool {
	if tb == nil || tb.capacity <= 0 {
		return true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}

	return false
}

// Tokens 返回當前令牌數（用於監控）。
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return int64(tb.tokens)
}
