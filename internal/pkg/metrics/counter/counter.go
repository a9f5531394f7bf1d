package counter

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	paymentCountersKey = "payments:counters"
	revenueKey         = "payments:revenue"
	outcomeKey         = "payments:webhook:outcomes"
	durationKey        = "payments:webhook:duration_ms"

	recordTimeout = 2 * time.Second
)

// Recorder receives payment metrics. Implementations must never block the
// caller or surface storage errors.
type Recorder interface {
	PaymentAttempt(provider string)
	PaymentSucceeded(provider, currency string, amountMinor int64)
	PaymentFailed(provider string)
	AmountMismatch(provider string)
	WebhookOutcome(outcome string)
	WebhookDuration(provider string, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) PaymentAttempt(string)                  {}
func (Nop) PaymentSucceeded(string, string, int64) {}
func (Nop) PaymentFailed(string)                   {}
func (Nop) AmountMismatch(string)                  {}
func (Nop) WebhookOutcome(string)                  {}
func (Nop) WebhookDuration(string, time.Duration)  {}

// RedisRecorder keeps counters in Redis hashes.
type RedisRecorder struct {
	client *redis.Client
	// wait makes writes synchronous (tests).
	wait bool
}

// NewRedisRecorder creates a Recorder writing to client.
func NewRedisRecorder(client *redis.Client) *RedisRecorder {
	return &RedisRecorder{client: client}
}

func (r *RedisRecorder) PaymentAttempt(provider string) {
	r.incr(paymentCountersKey, field(provider, "attempts"), 1)
}

func (r *RedisRecorder) PaymentSucceeded(provider, currency string, amountMinor int64) {
	r.incr(paymentCountersKey, field(provider, "succeeded"), 1)
	r.incr(revenueKey, strings.ToLower(currency), amountMinor)
}

func (r *RedisRecorder) PaymentFailed(provider string) {
	r.incr(paymentCountersKey, field(provider, "failed"), 1)
}

func (r *RedisRecorder) AmountMismatch(provider string) {
	r.incr(paymentCountersKey, field(provider, "amount_mismatch"), 1)
}

func (r *RedisRecorder) WebhookOutcome(outcome string) {
	r.incr(outcomeKey, outcome, 1)
}

func (r *RedisRecorder) WebhookDuration(provider string, d time.Duration) {
	r.incr(durationKey, field(provider, "count"), 1)
	r.incr(durationKey, field(provider, "total"), d.Milliseconds())
}

func (r *RedisRecorder) incr(key, f string, by int64) {
	if r == nil || r.client == nil {
		return
	}
	do := func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.client.HIncrBy(ctx, key, f, by).Err(); err != nil {
			log.Debugf("[Metrics] Failed to record %s/%s: %v", key, f, err)
		}
	}
	if r.wait {
		do()
		return
	}
	go do()
}

// Snapshot reads all payment counters. Values that cannot be parsed are skipped.
func (r *RedisRecorder) Snapshot(ctx context.Context) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, 4)
	for _, key := range []string{paymentCountersKey, revenueKey, outcomeKey, durationKey} {
		data, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		values := make(map[string]int64, len(data))
		for k, v := range data {
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				continue
			}
			values[k] = n
		}
		out[key] = values
	}
	return out, nil
}

func field(provider, name string) string {
	if provider == "" {
		provider = "unknown"
	}
	return provider + ":" + name
}
