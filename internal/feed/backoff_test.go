package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second, 2.0)

	require.Equal(t, 1*time.Second, b.Next())
	require.Equal(t, 2*time.Second, b.Next())
	require.Equal(t, 4*time.Second, b.Next())
	require.Equal(t, 8*time.Second, b.Next())
	require.Equal(t, 8*time.Second, b.Next()) // 封顶后不再增长
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 2.0)
	b.Next()
	b.Next()
	b.Next()

	b.Reset()
	require.Equal(t, time.Second, b.Next())
}

func TestBackoffSanitizesArguments(t *testing.T) {
	b := NewBackoff(0, -time.Second, 0.5)
	first := b.Next()
	require.Equal(t, time.Second, first)
	require.Equal(t, first, b.Next()) // multiplier 被钳到 1.0，max 被钳到 min
}
