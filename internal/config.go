package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	WebSocket WebSocketConfig `yaml:"websocket"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	Events struct {
		NATSURL       string `yaml:"nats_url"`       // 空字串代表不發布
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"events"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// WebSocketConfig WebSocket 連線配置
type WebSocketConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins"` // "*" 代表全部允許
	MaxConnections int           `yaml:"max_connections"` // 0 代表不限制
	ReadLimit      int64         `yaml:"read_limit"`      // 單則訊息最大位元組，超過即關閉連接
	SendBuffer     int           `yaml:"send_buffer"`
	PingPeriod     time.Duration `yaml:"ping_period"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
}

// RateLimitConfig 每條連線的入站限流
type RateLimitConfig struct {
	Capacity        int64 `yaml:"capacity"` // 0 代表不限流
	RefillPerSecond int64 `yaml:"refill_per_second"`
}

// DefaultConfig 返回默認配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8000
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.WebSocket = WebSocketConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		MaxConnections: 10000,
		ReadLimit:      64 << 10,
		SendBuffer:     256,
		PingPeriod:     54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
	}

	cfg.RateLimit = RateLimitConfig{
		Capacity:        20,
		RefillPerSecond: 10,
	}

	cfg.Events.SubjectPrefix = "match"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// LoadConfig 載入配置
//
// 優先順序（後者覆蓋前者）：預設值 → YAML 檔案 → .env / 環境變數。
// path 為空字串時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - 路徑來自命令列參數
		if err != nil {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置檔失敗: %w", err)
		}
	}

	// .env 不存在不算錯誤；已存在的環境變數不會被覆蓋
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("載入 .env 失敗: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv 環境變數覆蓋（生產環境常用）
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("無效的 PORT: %q", v)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.WebSocket.AllowedOrigins = origins
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("端口必須在 1-65535 之間: %d", c.Server.Port)
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer 必須大於 0")
	}
	if c.WebSocket.ReadLimit <= 0 {
		return fmt.Errorf("read_limit 必須大於 0")
	}
	if c.WebSocket.PingPeriod <= 0 || c.WebSocket.PongWait <= c.WebSocket.PingPeriod {
		return fmt.Errorf("pong_wait (%s) 必須大於 ping_period (%s)",
			c.WebSocket.PongWait, c.WebSocket.PingPeriod)
	}
	if c.WebSocket.WriteWait <= 0 {
		return fmt.Errorf("write_wait 必須大於 0: %s", c.WebSocket.WriteWait)
	}
	if c.RateLimit.Capacity > 0 && c.RateLimit.RefillPerSecond <= 0 {
		return fmt.Errorf("啟用限流時 refill_per_second 必須大於 0")
	}
	return nil
}

// Addr HTTP 監聽位址
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
