package counter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const isolatedCounterTestRedisDB = 13

// newIsolatedRedisClient connects to a scratch Redis DB or skips the test.
func newIsolatedRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	var lastErr error
	for _, host := range []string{env.GetEnv("CACHE_HOST", "localhost"), "cache", "127.0.0.1"} {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", host, env.GetEnv("CACHE_PORT", "6379")),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       isolatedCounterTestRedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			lastErr = err
			_ = client.Close()
			continue
		}

		require.NoError(t, client.FlushDB(context.Background()).Err())
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

func TestRedisRecorder_Snapshot(t *testing.T) {
	client := newIsolatedRedisClient(t)
	r := &RedisRecorder{client: client, wait: true}

	r.PaymentAttempt("stripe")
	r.PaymentAttempt("stripe")
	r.PaymentSucceeded("stripe", "EUR", 20000)
	r.PaymentSucceeded("stripe", "eur", 500)
	r.PaymentFailed("stripe")
	r.AmountMismatch("")
	r.WebhookOutcome("processed")
	r.WebhookDuration("stripe", 1500*time.Millisecond)

	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), snap[paymentCountersKey]["stripe:attempts"])
	assert.Equal(t, int64(2), snap[paymentCountersKey]["stripe:succeeded"])
	assert.Equal(t, int64(1), snap[paymentCountersKey]["stripe:failed"])
	assert.Equal(t, int64(1), snap[paymentCountersKey]["unknown:amount_mismatch"])
	assert.Equal(t, int64(20500), snap[revenueKey]["eur"])
	assert.Equal(t, int64(1), snap[outcomeKey]["processed"])
	assert.Equal(t, int64(1), snap[durationKey]["stripe:count"])
	assert.Equal(t, int64(1500), snap[durationKey]["stripe:total"])
}

func TestRedisRecorder_UnreachableRedisNeverBlocks(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	r := NewRedisRecorder(client)

	done := make(chan struct{})
	go func() {
		r.PaymentSucceeded("stripe", "eur", 100)
		r.WebhookOutcome("processed")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("recording blocked on an unreachable Redis")
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *RedisRecorder
	assert.NotPanics(t, func() {
		r.PaymentAttempt("stripe")
		r.WebhookDuration("stripe", time.Second)
	})

	var rec Recorder = Nop{}
	assert.NotPanics(t, func() { rec.PaymentSucceeded("stripe", "eur", 1) })
}
