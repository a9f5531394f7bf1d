package models

import (
	"math"
	"time"
)

const (
	FailedEventPending   = "pending"
	FailedEventRetrying  = "retrying"
	FailedEventFailed    = "failed"
	FailedEventSucceeded = "succeeded"
)

// FailedEvent is a durably queued re-run of the webhook pipeline for an event
// whose first processing failed after authentication.
type FailedEvent struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Provider      string     `gorm:"type:varchar(20);not null;index:ux_failed_events_provider_event,unique,priority:1" json:"provider"`
	EventID       string     `gorm:"type:varchar(191);not null;index:ux_failed_events_provider_event,unique,priority:2" json:"event_id"`
	EventType     string     `gorm:"type:varchar(100);not null" json:"event_type"`
	PayloadJSON   string     `gorm:"type:longtext;not null" json:"payload_json"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	AttemptCount  int        `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts   int        `gorm:"not null;default:6" json:"max_attempts"`
	NextRetryAt   time.Time  `gorm:"not null;index:idx_failed_events_due,priority:2" json:"next_retry_at"`
	LastAttemptAt *time.Time `gorm:"type:timestamp;default:null" json:"last_attempt_at,omitempty"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_failed_events_due,priority:1" json:"status"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExhausted reports whether no automatic attempt is left.
func (f *FailedEvent) IsExhausted() bool {
	return f.AttemptCount >= f.MaxAttempts
}

// NextRetryDelay returns base^attempt units. The result is capped so a large
// attempt count cannot overflow time.Duration.
func NextRetryDelay(base float64, unit time.Duration, attempt int) time.Duration {
	if base < 1 {
		base = 1
	}
	if attempt < 0 {
		attempt = 0
	}
	d := math.Pow(base, float64(attempt)) * float64(unit)
	if d > float64(math.MaxInt64) || math.IsInf(d, 0) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
