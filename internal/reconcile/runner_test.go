package reconcile

import (
	"context"
	"testing"
	"time"

	"surgibot-sync/internal/config"
	"surgibot-sync/internal/domain"
	"surgibot-sync/internal/eventlog"
	"surgibot-sync/internal/queue"
	"surgibot-sync/internal/repository"
	"surgibot-sync/internal/settings"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// 事件循环端到端：真实定时器 + 快照通道，完成判定在防抖窗口后自动发生
func TestReconcilerLoopEndToEnd(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{}
	cfg.Sync.DebounceWindow = 50 * time.Millisecond
	cfg.Sync.PostOpRecheckInterval = 20 * time.Millisecond
	cfg.Sync.StoreWriteRetries = 2
	cfg.Sync.StoreWriteBackoff = time.Millisecond
	cfg.Sync.QueueMode = "numeric"
	logger := zap.NewNop()

	now := time.Now()
	casesRepo := repository.NewMemoryCasesRepository()
	start, end := now.Add(-time.Hour), now
	require.NoError(t, casesRepo.UpsertCase(ctx, &domain.Case{
		CaseID:      "C1",
		HNHash:      domain.HashHN("6500C1"),
		ORRoomID:    "OR1",
		ScheduledAt: now,
		Period:      domain.PeriodOf(now),
		Status:      domain.StatusScheduled,
		PostOp:      domain.PostOpFields{StartTime: &start, EndTime: &end},
	}))
	transRepo := repository.NewMemoryTransitionsRepository()

	snapshots := make(chan domain.MonitorSnapshot, 4)
	r := NewReconciler(cfg, casesRepo,
		eventlog.NewLog(transRepo, nil, "", logger),
		queue.NewEngine(logger),
		settings.NewService(cfg, nil, logger),
		nil, snapshots, logger)

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	snapshots <- domain.MonitorSnapshot{Sequence: 1, ObservedAt: time.Now(), ActiveCaseIDs: []string{"C1"}}
	require.Eventually(t, func() bool {
		for _, v := range r.Views() {
			if v.CaseID == "C1" && v.Status == domain.StatusObserved {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// 消失：窗口（50ms）过后自动判定完成
	snapshots <- domain.MonitorSnapshot{Sequence: 2, ObservedAt: time.Now(), ActiveCaseIDs: []string{}}
	require.Eventually(t, func() bool {
		c, err := casesRepo.GetCase(ctx, "C1")
		return err == nil && c.Status == domain.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	var completed int
	for _, tr := range transRepo.All() {
		if tr.ToStatus == domain.StatusCompleted {
			completed++
		}
	}
	require.Equal(t, 1, completed)
}

// Stop 后事件循环退出，重复 Stop 安全
func TestReconcilerStopIsIdempotent(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sync.DebounceWindow = time.Minute
	cfg.Sync.PostOpRecheckInterval = time.Minute
	cfg.Sync.StoreWriteRetries = 1
	cfg.Sync.StoreWriteBackoff = time.Millisecond
	cfg.Sync.QueueMode = "numeric"
	logger := zap.NewNop()

	snapshots := make(chan domain.MonitorSnapshot)
	r := NewReconciler(cfg, repository.NewMemoryCasesRepository(),
		eventlog.NewLog(repository.NewMemoryTransitionsRepository(), nil, "", logger),
		queue.NewEngine(logger),
		settings.NewService(cfg, nil, logger),
		nil, snapshots, logger)

	require.NoError(t, r.Start(context.Background()))
	r.Stop()
	r.Stop()
}
