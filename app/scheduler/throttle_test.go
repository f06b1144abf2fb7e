package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/coldflowhq/coldflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleBeforeSend(t *testing.T) {
	t.Run("AllowsUpToWindowLimit", func(t *testing.T) {
		throttle := NewThrottle(config.ThrottleConfig{
			WindowLimit: 3,
			Window:      time.Minute,
		})

		ctx := context.Background()
		start := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, throttle.BeforeSend(ctx))
		}
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("BlocksUntilWindowRollsOver", func(t *testing.T) {
		throttle := NewThrottle(config.ThrottleConfig{
			WindowLimit: 2,
			Window:      150 * time.Millisecond,
		})

		ctx := context.Background()
		require.NoError(t, throttle.BeforeSend(ctx))
		require.NoError(t, throttle.BeforeSend(ctx))

		start := time.Now()
		require.NoError(t, throttle.BeforeSend(ctx))
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("CancelledContextUnblocks", func(t *testing.T) {
		throttle := NewThrottle(config.ThrottleConfig{
			WindowLimit: 1,
			Window:      time.Hour,
		})

		require.NoError(t, throttle.BeforeSend(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := throttle.BeforeSend(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("NewWindowResetsCount", func(t *testing.T) {
		throttle := NewThrottle(config.ThrottleConfig{
			WindowLimit: 1,
			Window:      50 * time.Millisecond,
		})

		ctx := context.Background()
		require.NoError(t, throttle.BeforeSend(ctx))
		time.Sleep(60 * time.Millisecond)

		start := time.Now()
		require.NoError(t, throttle.BeforeSend(ctx))
		assert.Less(t, time.Since(start), 30*time.Millisecond)
	})
}

func TestThrottleAfterSend(t *testing.T) {
	t.Run("DelayWithinJitterBounds", func(t *testing.T) {
		throttle := NewThrottle(config.ThrottleConfig{
			WindowLimit: 10,
			Window:      time.Minute,
			BaseDelay:   30 * time.Millisecond,
			MaxJitter:   40 * time.Millisecond,
		})

		for i := 0; i < 5; i++ {
			start := time.Now()
			require.NoError(t, throttle.AfterSend(context.Background()))
			elapsed := time.Since(start)
			assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
			assert.Less(t, elapsed, 200*time.Millisecond)
		}
	})

	t.Run("ZeroDelayReturnsImmediately", func(t *testing.T) {
		throttle := NewThrottle(config.ThrottleConfig{
			WindowLimit: 10,
			Window:      time.Minute,
		})

		start := time.Now()
		require.NoError(t, throttle.AfterSend(context.Background()))
		assert.Less(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("CancelledContextCutsDelayShort", func(t *testing.T) {
		throttle := NewThrottle(config.ThrottleConfig{
			WindowLimit: 10,
			Window:      time.Minute,
			BaseDelay:   time.Hour,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		err := throttle.AfterSend(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
