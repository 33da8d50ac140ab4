package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/config"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "test", "thumbnail")
}

func TestReserveRateToken_RefundRestoresBudget(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	ok, _, err := q.reserveRateToken(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = q.reserveRateToken(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	// A returned token frees a slot in the same window.
	require.NoError(t, q.refundRateToken(ctx, 2))

	ok, _, err = q.reserveRateToken(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, wait, err := q.reserveRateToken(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
}

func TestReserveRateToken_ZeroMeansUnlimited(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		ok, _, err := q.reserveRateToken(ctx, 0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, q.refundRateToken(ctx, 0))
}

func TestWorkerPool_IdlePollingKeepsRateBudget(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed atomic.Int32
	cfg := config.QueueConfig{
		Name:          "thumbnail",
		Concurrency:   1,
		RatePerMinute: 1,
		MaxAttempts:   3,
		BackoffBaseMs: 100,
		StallSeconds:  60,
	}
	pool := NewWorkerPool(q, cfg, func(ctx context.Context, job *Job) error {
		processed.Add(1)
		return nil
	})

	pool.Start(ctx)
	defer pool.Stop()

	// Let the worker poll the empty queue a few times; those polls must not
	// spend the single token of the rate window.
	time.Sleep(1500 * time.Millisecond)

	_, err := q.Add(ctx, "generate-thumbnail", []byte(`{}`), AddOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return processed.Load() == 1 }, 5*time.Second, 50*time.Millisecond)
}
