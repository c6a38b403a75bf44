package eventlog

import (
	"context"
	"testing"
	"time"

	"surgibot-sync/internal/domain"
	"surgibot-sync/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func transitionAt(caseID string, to domain.CaseStatus, at time.Time, causeSeq int64) domain.LifecycleTransition {
	from := domain.StatusScheduled
	if to == domain.StatusCompleted {
		from = domain.StatusGracePeriod
	}
	return domain.NewTransition(caseID, from, to, at, domain.CauseSnapshot, causeSeq)
}

func TestAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTransitionsRepository()
	log := NewLog(repo, nil, "", zap.NewNop())

	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	tr := transitionAt("C1", domain.StatusObserved, base, 1)

	require.NoError(t, log.Append(ctx, tr))
	require.NoError(t, log.Append(ctx, tr)) // 重复投递是静默 no-op
	require.Len(t, repo.All(), 1)

	// 不同因果序号是不同的跃迁
	require.NoError(t, log.Append(ctx, transitionAt("C1", domain.StatusObserved, base, 2)))
	require.Len(t, repo.All(), 2)
}

func TestStreamTransitionsOrderAndResume(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTransitionsRepository()
	log := NewLog(repo, nil, "", zap.NewNop())

	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	var want []string
	for i := 0; i < 7; i++ {
		tr := transitionAt("C1", domain.StatusObserved, base.Add(time.Duration(i)*time.Minute), int64(i+1))
		require.NoError(t, log.Append(ctx, tr))
		want = append(want, tr.TransitionID)
	}

	// batchSize 小于总量，强制多页拉取
	var got []string
	var lastAt time.Time
	for tr := range log.StreamTransitions(ctx, base, repository.TransitionFilter{}, 3) {
		got = append(got, tr.TransitionID)
		require.False(t, tr.At.Before(lastAt))
		lastAt = tr.At
	}
	require.Equal(t, want, got)

	// 从中途时刻重启续读
	var resumed []string
	for tr := range log.StreamTransitions(ctx, base.Add(4*time.Minute), repository.TransitionFilter{}, 3) {
		resumed = append(resumed, tr.TransitionID)
	}
	require.Equal(t, want[4:], resumed)
}

func TestStreamTransitionsFilterByCase(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTransitionsRepository()
	log := NewLog(repo, nil, "", zap.NewNop())

	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(ctx, transitionAt("C1", domain.StatusObserved, base, 1)))
	require.NoError(t, log.Append(ctx, transitionAt("C2", domain.StatusObserved, base.Add(time.Minute), 2)))
	require.NoError(t, log.Append(ctx, transitionAt("C1", domain.StatusCompleted, base.Add(2*time.Minute), 3)))

	var got []domain.LifecycleTransition
	for tr := range log.StreamTransitions(ctx, base, repository.TransitionFilter{CaseID: "C1"}, 10) {
		got = append(got, tr)
	}
	require.Len(t, got, 2)
	for _, tr := range got {
		require.Equal(t, "C1", tr.CaseID)
	}
}

func TestStreamTransitionsStopsOnCancel(t *testing.T) {
	repo := repository.NewMemoryTransitionsRepository()
	log := NewLog(repo, nil, "", zap.NewNop())

	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(context.Background(), transitionAt("C1", domain.StatusObserved, base.Add(time.Duration(i)*time.Minute), int64(i+1))))
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := log.StreamTransitions(ctx, base, repository.TransitionFilter{}, 2)
	<-ch
	cancel()

	// 取消后 channel 在有限步内关闭
	for range ch {
	}
}
