package queue

import (
	"testing"
	"time"

	"surgibot-sync/internal/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func activeCases(n int, orRoom string, base time.Time) []*domain.Case {
	out := make([]*domain.Case, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &domain.Case{
			CaseID:      string(rune('A' + i)),
			ORRoomID:    orRoom,
			ScheduledAt: base.Add(time.Duration(i) * 15 * time.Minute),
			Period:      domain.PeriodIn,
			Status:      domain.StatusObserved,
		})
	}
	return out
}

func TestNumericAssignsLowestFreeSlots(t *testing.T) {
	e := NewEngine(zap.NewNop())
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	changed := e.Recompute("OR1", domain.PeriodIn, domain.QueueModeNumeric, activeCases(3, "OR1", base))
	require.Len(t, changed, 3)

	got := e.Assignments("OR1", domain.PeriodIn)
	require.Equal(t, 1, got["A"].Slot)
	require.Equal(t, 2, got["B"].Slot)
	require.Equal(t, 3, got["C"].Slot)
	for _, a := range got {
		require.False(t, a.Overflow)
	}
}

func TestNumericTenthCaseOverflows(t *testing.T) {
	e := NewEngine(zap.NewNop())
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	e.Recompute("OR1", domain.PeriodIn, domain.QueueModeNumeric, activeCases(10, "OR1", base))

	got := e.Assignments("OR1", domain.PeriodIn)
	require.Len(t, got, 10)
	seen := make(map[int]bool)
	for id, a := range got {
		if id == "J" { // 最晚的第 10 个
			require.True(t, a.Overflow)
			require.Equal(t, 0, a.Slot)
			continue
		}
		require.False(t, a.Overflow)
		require.GreaterOrEqual(t, a.Slot, 1)
		require.LessOrEqual(t, a.Slot, MaxNumericSlot)
		require.False(t, seen[a.Slot], "slot %d assigned twice", a.Slot)
		seen[a.Slot] = true
	}
}

// 完成的病例释放队列位：空位只给此前溢出的病例，存活者不重排
func TestNumericVacatedSlotDoesNotReshuffle(t *testing.T) {
	e := NewEngine(zap.NewNop())
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	cases := activeCases(10, "OR1", base)

	e.Recompute("OR1", domain.PeriodIn, domain.QueueModeNumeric, cases)

	// 3 号位的 C 完成离开活跃集
	remaining := append(append([]*domain.Case{}, cases[:2]...), cases[3:]...)
	changed := e.Recompute("OR1", domain.PeriodIn, domain.QueueModeNumeric, remaining)

	// 唯一的变化：此前溢出的 J 挪入空出的 3 号位
	require.Len(t, changed, 1)
	require.Equal(t, "J", changed[0].CaseID)
	require.Equal(t, 3, changed[0].Slot)
	require.False(t, changed[0].Overflow)

	got := e.Assignments("OR1", domain.PeriodIn)
	require.NotContains(t, got, "C")
	require.Equal(t, 1, got["A"].Slot)
	require.Equal(t, 2, got["B"].Slot)
	require.Equal(t, 4, got["D"].Slot)
}

func TestNumericTieBreakByCaseID(t *testing.T) {
	e := NewEngine(zap.NewNop())
	at := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	cases := []*domain.Case{
		{CaseID: "Z", ORRoomID: "OR1", ScheduledAt: at, Period: domain.PeriodIn},
		{CaseID: "M", ORRoomID: "OR1", ScheduledAt: at, Period: domain.PeriodIn},
		{CaseID: "A", ORRoomID: "OR1", ScheduledAt: at, Period: domain.PeriodIn},
	}

	e.Recompute("OR1", domain.PeriodIn, domain.QueueModeNumeric, cases)

	got := e.Assignments("OR1", domain.PeriodIn)
	require.Equal(t, 1, got["A"].Slot)
	require.Equal(t, 2, got["M"].Slot)
	require.Equal(t, 3, got["Z"].Slot)
}

func TestTimeOrderedRanksWithoutLimit(t *testing.T) {
	e := NewEngine(zap.NewNop())
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	e.Recompute("OR1", domain.PeriodIn, domain.QueueModeTimeOrdered, activeCases(12, "OR1", base))

	got := e.Assignments("OR1", domain.PeriodIn)
	require.Len(t, got, 12)
	for i := 0; i < 12; i++ {
		a := got[string(rune('A'+i))]
		require.Equal(t, i+1, a.Slot)
		require.False(t, a.Overflow)
	}
}

// 共享设置从 time_ordered 切回 numeric：超过上限的名次不保留，
// 持位者降级为溢出而不是带着 10+ 的位进入数字模式
func TestNumericModeSwitchDropsSlotsBeyondLimit(t *testing.T) {
	e := NewEngine(zap.NewNop())
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	cases := activeCases(12, "OR1", base)

	e.Recompute("OR1", domain.PeriodIn, domain.QueueModeTimeOrdered, cases)
	e.Recompute("OR1", domain.PeriodIn, domain.QueueModeNumeric, cases)

	got := e.Assignments("OR1", domain.PeriodIn)
	for i := 0; i < 9; i++ {
		a := got[string(rune('A'+i))]
		require.Equal(t, i+1, a.Slot)
		require.False(t, a.Overflow)
	}
	for _, id := range []string{"J", "K", "L"} {
		require.Equal(t, 0, got[id].Slot)
		require.True(t, got[id].Overflow)
	}
}

// 各 (OR, 时段) 组相互独立
func TestGroupsAreIndependent(t *testing.T) {
	e := NewEngine(zap.NewNop())
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	e.Recompute("OR1", domain.PeriodIn, domain.QueueModeNumeric, activeCases(2, "OR1", base))
	e.Recompute("OR2", domain.PeriodIn, domain.QueueModeNumeric, activeCases(2, "OR2", base))

	require.Equal(t, 1, e.Assignments("OR1", domain.PeriodIn)["A"].Slot)
	require.Equal(t, 1, e.Assignments("OR2", domain.PeriodIn)["A"].Slot)
	require.Empty(t, e.Assignments("OR1", domain.PeriodOff))
}
