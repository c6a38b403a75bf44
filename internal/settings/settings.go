// Package settings 提供跨实例共享设置的进程内服务
//
// 多个桌面/服务实例通过共享存储同步少量显示策略（队列模式、
// 防抖覆盖）。本服务启动时显式装载、之后周期轮询刷新，调用方
// 只读快照访问——共享存储是 read-mostly 的外部协作方，不存在
// 进程内的可变共享全局
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"surgibot-sync/internal/config"
	"surgibot-sync/internal/domain"
	"surgibot-sync/internal/store"

	"go.uber.org/zap"
)

// Shared 共享设置文档（Redis 中的 JSON）
type Shared struct {
	// QueueMode 默认队列模式："numeric" | "time_ordered"
	QueueMode domain.QueueMode `json:"queue_mode"`
	// QueueModeByOR 按 OR 房间覆盖，如 {"OR3": "time_ordered"}
	QueueModeByOR map[string]domain.QueueMode `json:"queue_mode_by_or,omitempty"`
	// DebounceWindowSeconds 防抖窗口覆盖（秒），0 表示用本地配置
	DebounceWindowSeconds int `json:"debounce_window_seconds,omitempty"`
}

// Service 共享设置服务
type Service struct {
	cfg    *config.Config
	kv     store.KV
	logger *zap.Logger

	mu      sync.RWMutex
	current Shared

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService 创建共享设置服务（kv 为 nil 时只用本地配置）
func NewService(cfg *config.Config, kv store.KV, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		kv:     kv,
		logger: logger,
		current: Shared{
			QueueMode: domain.QueueMode(cfg.Sync.QueueMode),
		},
	}
}

// Load 启动时显式装载一次（共享存储缺失该键时保持本地默认）
func (s *Service) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	raw, err := s.kv.Get(ctx, s.cfg.Settings.Key)
	if err == store.ErrMiss {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load shared settings: %w", err)
	}
	return s.apply(raw)
}

// Start 启动周期刷新
func (s *Service) Start(ctx context.Context) {
	if s.kv == nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.refreshLoop(ctx)
}

// Stop 停止周期刷新
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Service) refreshLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Settings.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Load(ctx); err != nil {
				s.logger.Warn("Shared settings refresh failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) apply(raw string) error {
	var shared Shared
	if err := json.Unmarshal([]byte(raw), &shared); err != nil {
		return fmt.Errorf("malformed shared settings document: %w", err)
	}
	if shared.QueueMode != domain.QueueModeNumeric && shared.QueueMode != domain.QueueModeTimeOrdered {
		shared.QueueMode = domain.QueueMode(s.cfg.Sync.QueueMode)
	}

	s.mu.Lock()
	changed := shared.QueueMode != s.current.QueueMode ||
		shared.DebounceWindowSeconds != s.current.DebounceWindowSeconds
	s.current = shared
	s.mu.Unlock()

	if changed {
		s.logger.Info("Shared settings updated",
			zap.String("queue_mode", string(shared.QueueMode)),
			zap.Int("debounce_override_seconds", shared.DebounceWindowSeconds),
		)
	}
	return nil
}

// QueueMode 某 OR 房间生效的队列模式
func (s *Service) QueueMode(orRoomID string) domain.QueueMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mode, ok := s.current.QueueModeByOR[orRoomID]; ok {
		if mode == domain.QueueModeNumeric || mode == domain.QueueModeTimeOrdered {
			return mode
		}
	}
	return s.current.QueueMode
}

// DebounceWindow 生效的防抖窗口（共享覆盖优先，其次本地配置）
func (s *Service) DebounceWindow() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.DebounceWindowSeconds > 0 {
		return time.Duration(s.current.DebounceWindowSeconds) * time.Second
	}
	return s.cfg.Sync.DebounceWindow
}
