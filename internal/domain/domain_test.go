package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransitionIDDeterministic(t *testing.T) {
	a := NewTransitionID("C1", StatusCompleted, 42)
	b := NewTransitionID("C1", StatusCompleted, 42)
	require.Equal(t, a, b)

	// 任一分量不同即不同跃迁
	require.NotEqual(t, a, NewTransitionID("C2", StatusCompleted, 42))
	require.NotEqual(t, a, NewTransitionID("C1", StatusGracePeriod, 42))
	require.NotEqual(t, a, NewTransitionID("C1", StatusCompleted, 43))
}

func TestPeriodOfOfficeHours(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		hour, minute int
		want         Period
	}{
		{8, 29, PeriodOff},
		{8, 30, PeriodIn},
		{12, 0, PeriodIn},
		{16, 29, PeriodIn},
		{16, 30, PeriodOff},
		{22, 0, PeriodOff},
	}
	for _, tc := range cases {
		at := day.Add(time.Duration(tc.hour)*time.Hour + time.Duration(tc.minute)*time.Minute)
		require.Equal(t, tc.want, PeriodOf(at), "%02d:%02d", tc.hour, tc.minute)
	}
}

func TestPostOpFieldsComplete(t *testing.T) {
	now := time.Now()
	require.False(t, PostOpFields{}.Complete())
	require.False(t, PostOpFields{StartTime: &now}.Complete())
	require.False(t, PostOpFields{EndTime: &now}.Complete())
	require.True(t, PostOpFields{StartTime: &now, EndTime: &now}.Complete())
}

func TestHashHNStableAndOpaque(t *testing.T) {
	h := HashHN("65001234")
	require.Equal(t, HashHN("65001234"), h)
	require.Len(t, h, 64)
	require.NotContains(t, h, "65001234")
}

func TestSnapshotActiveSet(t *testing.T) {
	s := MonitorSnapshot{Sequence: 1, ActiveCaseIDs: []string{"C1", "C2", "C1"}}
	set := s.ActiveSet()
	require.Len(t, set, 2)
	require.Contains(t, set, "C1")
	require.Contains(t, set, "C2")
}

func TestTerminalStatus(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.False(t, StatusScheduled.Terminal())
	require.False(t, StatusObserved.Terminal())
	require.False(t, StatusGracePeriod.Terminal())
}
