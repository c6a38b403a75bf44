package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"surgibot-sync/internal/config"
	"surgibot-sync/internal/domain"
	"surgibot-sync/internal/store"

	"go.uber.org/zap"
)

// CacheManager Redis 缓存管理器
//
// 把对账批次后的只读病例视图和健康信号镜像到共享存储，
// 供表示层/分析侧读取；写失败只记日志，不影响对账
type CacheManager struct {
	cfg    *config.Config
	kv     store.KV
	logger *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(cfg *config.Config, kv store.KV, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		cfg:    cfg,
		kv:     kv,
		logger: logger,
	}
}

// PublishViews 更新病例视图缓存
func (c *CacheManager) PublishViews(ctx context.Context, views []domain.CaseView) error {
	ttl := time.Duration(c.cfg.Sync.Cache.CaseViewTTL) * time.Second
	for _, v := range views {
		key := fmt.Sprintf("%s%s", c.cfg.Sync.Cache.CaseViewKeyPrefix, v.CaseID)
		jsonData, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal case view: %w", err)
		}
		if err := c.kv.Set(ctx, key, string(jsonData), ttl); err != nil {
			return fmt.Errorf("failed to set case view cache: %w", err)
		}
	}
	return nil
}

// PublishHealth 更新健康信号缓存
func (c *CacheManager) PublishHealth(ctx context.Context, health domain.SyncHealth) error {
	jsonData, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to marshal health: %w", err)
	}
	if err := c.kv.Set(ctx, c.cfg.Sync.Cache.HealthKey, string(jsonData), 0); err != nil {
		return fmt.Errorf("failed to set health cache: %w", err)
	}
	return nil
}
