// Package eventlog 维护病例状态跃迁的 append-only 记录
//
// Postgres case_transitions 表是唯一事实来源；每条成功追加的记录
// 同时尽力发布到 Redis Stream 供实时分析消费（发布失败只记日志，
// 不影响追加结果）。时长/翻台/准点率等聚合由下游分析方完成，
// 本包不做任何聚合。
package eventlog

import (
	"context"
	"fmt"
	"time"

	"surgibot-sync/internal/domain"
	rediscommon "surgibot-sync/internal/redis"
	"surgibot-sync/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Log 状态跃迁事件日志
type Log struct {
	repo        repository.TransitionsRepository
	redisClient *redis.Client // 可为 nil（测试/无 Redis 部署）
	stream      string
	logger      *zap.Logger
}

// NewLog 创建事件日志
func NewLog(repo repository.TransitionsRepository, redisClient *redis.Client, stream string, logger *zap.Logger) *Log {
	return &Log{
		repo:        repo,
		redisClient: redisClient,
		stream:      stream,
		logger:      logger,
	}
}

// Append 追加一条跃迁记录
//
// transition_id 已存在时为静默 no-op（断线重放/重复投递不会重复计入
// 时长统计）。只有实际写入的记录才会发布到 Redis Stream。
func (l *Log) Append(ctx context.Context, t domain.LifecycleTransition) error {
	inserted, err := l.repo.Append(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	if !inserted {
		l.logger.Debug("Duplicate transition ignored",
			zap.String("transition_id", t.TransitionID),
			zap.String("case_id", t.CaseID),
		)
		return nil
	}

	l.logger.Info("Lifecycle transition recorded",
		zap.String("case_id", t.CaseID),
		zap.String("from_status", string(t.FromStatus)),
		zap.String("to_status", string(t.ToStatus)),
		zap.String("cause", string(t.Cause)),
		zap.Int64("cause_seq", t.CauseSeq),
	)

	if l.redisClient != nil && l.stream != "" {
		if _, err := rediscommon.PublishJSONToStream(ctx, l.redisClient, l.stream, t); err != nil {
			// Stream 只是实时旁路，失败不影响追加结果
			l.logger.Warn("Failed to publish transition to stream",
				zap.String("transition_id", t.TransitionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// StreamTransitions 惰性读取 since 之后的跃迁序列
//
// 返回的 channel 按 (occurred_at, transition_id) 顺序逐条给出记录，
// 内部按页拉取；消费方取消 ctx 即停止。读取位置由游标维护，
// 中断后可用相同参数重启并续读。
func (l *Log) StreamTransitions(ctx context.Context, since time.Time, filter repository.TransitionFilter, batchSize int) <-chan domain.LifecycleTransition {
	if batchSize <= 0 {
		batchSize = 200
	}
	out := make(chan domain.LifecycleTransition)

	go func() {
		defer close(out)
		cursor := repository.TransitionCursor{At: since}
		for {
			page, err := l.repo.ListAfter(ctx, cursor, filter, batchSize)
			if err != nil {
				l.logger.Error("Failed to read transitions page", zap.Error(err))
				return
			}
			if len(page) == 0 {
				return
			}
			for _, t := range page {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
			last := page[len(page)-1]
			cursor = repository.TransitionCursor{At: last.At, ID: last.TransitionID}
		}
	}()

	return out
}
