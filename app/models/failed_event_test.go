package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		base    float64
		attempt int
		want    time.Duration
	}{
		{5, 0, time.Second},
		{5, 1, 5 * time.Second},
		{5, 2, 25 * time.Second},
		{5, 3, 125 * time.Second},
		{2, 10, 1024 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextRetryDelay(tt.base, time.Second, tt.attempt))
	}
}

func TestNextRetryDelay_GrowsMonotonically(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := NextRetryDelay(5, time.Second, attempt)
		assert.Greater(t, d, prev)
		prev = d
	}
	// Sixth attempt waits for more than an hour.
	assert.Greater(t, NextRetryDelay(5, time.Second, 6), time.Hour)
}

func TestNextRetryDelay_Caps(t *testing.T) {
	assert.Equal(t, time.Duration(math.MaxInt64), NextRetryDelay(10, time.Hour, 400))
	assert.Equal(t, time.Second, NextRetryDelay(0.5, time.Second, 3))
}

func TestFailedEventIsExhausted(t *testing.T) {
	f := &FailedEvent{AttemptCount: 5, MaxAttempts: 6}
	assert.False(t, f.IsExhausted())
	f.AttemptCount = 6
	assert.True(t, f.IsExhausted())
}
