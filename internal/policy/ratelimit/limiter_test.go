package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPaces(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	_, err := l.Wait(ctx, "anthropic")
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Wait(ctx, "anthropic")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	_, err := l.Wait(ctx, "a")
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Wait(ctx, "b")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterDisabledAndCanceled(t *testing.T) {
	t.Parallel()

	unlimited := New(Config{})
	for i := 0; i < 5; i++ {
		_, err := unlimited.Wait(context.Background(), "")
		require.NoError(t, err)
	}

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	_, err := l.Wait(context.Background(), "slow")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Wait(ctx, "slow")
	require.Error(t, err)
}
