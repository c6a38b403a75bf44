package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"surgibot-sync/internal/config"
	"surgibot-sync/internal/database"
	"surgibot-sync/internal/domain"
	"surgibot-sync/internal/eventlog"
	"surgibot-sync/internal/feed"
	"surgibot-sync/internal/queue"
	"surgibot-sync/internal/reconcile"
	rediscommon "surgibot-sync/internal/redis"
	"surgibot-sync/internal/repository"
	"surgibot-sync/internal/settings"
	"surgibot-sync/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SyncService Monitor 同步服务
//
// 组装数据流：Feed Client → 有序快照通道 → Presence Reconciler
// →（查询/回写 Schedule Store）→ Event Log + 队列重算 → 只读视图。
// 同时聚合 Feed 健康与存储降级为一个对外健康信号
type SyncService struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client

	feedClient *feed.Client
	poller     *feed.Poller
	reconciler *reconcile.Reconciler
	settings   *settings.Service
	cache      *CacheManager
	eventLog   *eventlog.Log

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncService 创建同步服务
func NewSyncService(cfg *config.Config, logger *zap.Logger) (*SyncService, error) {
	db, err := database.NewPostgresDB(context.Background(), &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	casesRepo := repository.NewPostgresCasesRepository(db)
	transitionsRepo := repository.NewPostgresTransitionsRepository(db)

	eventLog := eventlog.NewLog(transitionsRepo, redisClient, cfg.Sync.Stream.Transitions, logger)
	engine := queue.NewEngine(logger)
	kv := store.NewRedisKV(redisClient)
	settingsSvc := settings.NewService(cfg, kv, logger)
	cache := NewCacheManager(cfg, kv, logger)

	snapshots := make(chan domain.MonitorSnapshot, 16)
	gate := feed.NewSequenceGate()
	feedClient := feed.NewClient(cfg, snapshots, gate, logger)
	poller := feed.NewPoller(cfg, snapshots, gate, feedClient.Health, logger)

	reconciler := reconcile.NewReconciler(
		cfg,
		casesRepo,
		eventLog,
		engine,
		settingsSvc,
		cache,
		snapshots,
		logger,
	)

	return &SyncService{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		feedClient:  feedClient,
		poller:      poller,
		reconciler:  reconciler,
		settings:    settingsSvc,
		cache:       cache,
		eventLog:    eventLog,
	}, nil
}

// EventLog 事件日志（分析侧经由 StreamTransitions 消费）
func (s *SyncService) EventLog() *eventlog.Log { return s.eventLog }

// Views 最近一次发布的只读病例视图
func (s *SyncService) Views() []domain.CaseView { return s.reconciler.Views() }

// Health 聚合健康信号
func (s *SyncService) Health() domain.SyncHealth {
	degraded, msg := s.reconciler.Degraded()
	return domain.SyncHealth{
		Feed:        s.feedClient.Health(),
		Degraded:    degraded,
		DegradedMsg: msg,
		UpdatedAt:   time.Now(),
	}
}

// Start 启动服务组件
func (s *SyncService) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor sync service components")

	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.settings.Load(ctx); err != nil {
		// 共享设置不可用时用本地配置继续
		s.logger.Warn("Shared settings load failed, using local defaults", zap.Error(err))
	}
	s.settings.Start(ctx)

	if err := s.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	s.feedClient.Start(ctx)
	s.poller.Start(ctx)

	s.wg.Add(1)
	go s.publishHealthLoop(ctx)

	s.logger.Info("Monitor sync service started successfully")
	return nil
}

// Stop 优雅停止（先停数据源，再停状态机，最后关连接）
func (s *SyncService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping monitor sync service")

	if s.cancel != nil {
		s.cancel()
	}

	s.feedClient.Stop()
	s.poller.Stop()
	s.reconciler.Stop()
	s.settings.Stop()
	s.wg.Wait()

	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Error closing database connection", zap.Error(err))
	}

	s.logger.Info("Monitor sync service stopped")
	return nil
}

// publishHealthLoop 周期把聚合健康信号镜像到 Redis（表示层读取）
func (s *SyncService) publishHealthLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cache.PublishHealth(ctx, s.Health()); err != nil {
				s.logger.Warn("Failed to publish health", zap.Error(err))
			}
		}
	}
}
