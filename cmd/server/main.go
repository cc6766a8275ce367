package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/koopa0/system-design/14-match-relay/internal"
	"github.com/koopa0/system-design/14-match-relay/internal/events"
	"github.com/koopa0/system-design/14-match-relay/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔路徑 (YAML)")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 載入配置
	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// 設置日誌
	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(log)

	// 對局事件發布（未設定 NATS 時不發布）
	publisher, err := newPublisher(cfg, log)
	if err != nil {
		log.Error("初始化事件發布失敗", "error", err)
		os.Exit(1)
	}

	// 創建配對大廳與 WebSocket Hub
	lobby := internal.NewLobby(log, publisher)
	wsHub := internal.NewWebSocketHub(lobby, cfg.WebSocket, cfg.RateLimit, log)
	handler := internal.NewHandler(lobby, wsHub, log)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	go func() {
		log.Info("配對服務器啟動",
			"addr", server.Addr,
			"allowed_origins", cfg.WebSocket.AllowedOrigins,
			"log_level", cfg.Log.Level)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("收到關閉信號，開始優雅關閉...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接（已升級的 WebSocket 不受 Shutdown 管理）
	if err := server.Shutdown(ctx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有 WebSocket，走一般斷線流程
	wsHub.Stop()

	if err := publisher.Close(); err != nil {
		log.Error("關閉事件發布失敗", "error", err)
	}

	log.Info("服務器已關閉", "stats", lobby.Stats())
}

// newPublisher 依配置建立事件發布者
func newPublisher(cfg *internal.Config, log *slog.Logger) (events.Publisher, error) {
	if cfg.Events.NATSURL == "" {
		log.Info("未設定 NATS，不發布對局事件")
		return events.NopPublisher{}, nil
	}

	publisher, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
	if err != nil {
		return nil, err
	}

	log.Info("對局事件將發布到 NATS",
		"url", cfg.Events.NATSURL,
		"subject", publisher.Subject("*"))
	return publisher, nil
}
