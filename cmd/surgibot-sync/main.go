package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"surgibot-sync/internal/config"
	logpkg "surgibot-sync/internal/logger"
	"surgibot-sync/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "surgibot-sync")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting surgibot-sync service",
		zap.String("version", "1.0.0"),
		zap.String("snapshot_topic", cfg.Monitor.SnapshotTopic),
		zap.Duration("debounce_window", cfg.Sync.DebounceWindow),
		zap.String("queue_mode", cfg.Sync.QueueMode),
	)

	// 创建服务
	syncService, err := service.NewSyncService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create sync service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncService.Start(ctx); err != nil {
		logger.Fatal("Failed to start sync service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := syncService.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
